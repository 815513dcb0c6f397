//go:build windows

package service

func setUmaskForDaemon() {}
