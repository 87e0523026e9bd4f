package main

// ServeFlags override the configuration file for a single run.
type ServeFlags struct {
	ConfigPath    string
	Socket        string
	LogDir        string
	Daemonize     bool
	PidFile       string
	LogFile       string
	MetricsListen string
}
