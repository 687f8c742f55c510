package config

const (
	Version     = "1.2.0"
	AppName     = "checkind"
	LogFilename = "checkind.log"
	DbFilename  = "checkind.db"

	DefaultServerPort = 7612
	DefaultBaseUrl    = "https://checkin.dev.hack.gt"
)
