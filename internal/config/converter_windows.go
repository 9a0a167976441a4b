//go:build windows

package config

func converterBinary() string { return "replay-parser.exe" }
