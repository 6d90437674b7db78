package config

const (
	EnvPrefix = "samani"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvDBDSN  = "SAMANI_DB_DSN"
	EnvDBHost = "SAMANI_DB_HOST"
	EnvDBUser = "SAMANI_DB_USER"
	EnvDBName = "SAMANI_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
