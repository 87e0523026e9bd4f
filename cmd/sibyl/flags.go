package main

import "time"

// GlobalFlags are shared by every verb.
type GlobalFlags struct {
	ConfigPath string
	Socket     string
	Timeout    time.Duration
}
