package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// ComposeConfig describes the managed compose stack.
type ComposeConfig struct {
	File    string `conf:"COMPOSE_FILE,docker-compose.yml"`
	Project string `conf:"COMPOSE_PROJECT"`

	Service string `conf:"SERVICE_NAME,n8n"`
	Proxy   string `conf:"PROXY_NAME,traefik"`
	Network string `conf:"NETWORK_NAME,proxy"`
}

// PathsConfig names every directory and file the coordinators touch.
// Relative entries are resolved against Root.
type PathsConfig struct {
	Root    string `conf:"FLOWKEEPER_ROOT,."`
	Data    string `conf:"DATA_DIR,data"`
	Certs   string `conf:"CERT_DIR,certs"`
	Backups string `conf:"BACKUP_DIR,backups"`
	EnvFile string `conf:"ENV_FILE,.env"`
}

type BackupConfig struct {
	Prefix string `conf:"BACKUP_PREFIX,flowkeeper"`
	Keep   int    `conf:"BACKUP_KEEP,7"`

	// AsideKeep bounds the rename-aside history kept by restore.
	AsideKeep int `conf:"ASIDE_KEEP,3"`

	Schedule string `conf:"BACKUP_SCHEDULE,@daily"`

	// AgeRecipients holds comma separated age public keys. When set, the
	// credentials export inside the archive is encrypted.
	AgeRecipients string `conf:"BACKUP_AGE_RECIPIENTS"`

	// AgeIdentity is the path of an age identity file used by restore to
	// decrypt an encrypted credentials export before re-import.
	AgeIdentity string `conf:"RESTORE_AGE_IDENTITY"`

	// Remote is an rclone remote spec (e.g. "offsite:backups/flowkeeper").
	// When set, finished archives are replicated there.
	Remote string `conf:"BACKUP_REMOTE"`
}

type DatabaseConfig struct {
	Host string `conf:"DB_HOST"`
	Port int    `conf:"DB_PORT,5432"`

	Username string `conf:"DB_USER"`
	Password string `conf:"DB_PASSWORD"`
	Database string `conf:"DB_DATABASE"`
}

type UpdateConfig struct {
	HealthURL      string `conf:"HEALTH_URL,http://localhost:5678/healthz"`
	ProxyHealthURL string `conf:"PROXY_HEALTH_URL,http://localhost:8080/ping"`

	HealthAttempts int `conf:"HEALTH_ATTEMPTS,30"`
	// HealthInterval is the pause between polls, in seconds.
	HealthInterval int `conf:"HEALTH_INTERVAL,10"`
}

type Config struct {
	Compose  ComposeConfig
	Paths    PathsConfig
	Backup   BackupConfig
	Database DatabaseConfig
	Update   UpdateConfig
}

// validate configuration
func (c *Config) validate() error {
	db := c.Database
	if db.Host != "" {
		if db.Username == "" {
			return errors.New("database host given but username is missing")
		}
		if db.Password == "" {
			return errors.New("database host given but user password is missing")
		}
		if db.Database == "" {
			return errors.New("database host given but database name is missing")
		}
	}

	if c.Backup.Keep < 1 {
		return errors.New("backup keep count must be at least 1")
	}
	if c.Backup.AsideKeep < 0 {
		return errors.New("aside keep count must not be negative")
	}
	return nil
}

// DataDir returns the absolute data directory path.
func (c *Config) DataDir() string { return c.resolve(c.Paths.Data) }

// CertDir returns the absolute certificate store path.
func (c *Config) CertDir() string { return c.resolve(c.Paths.Certs) }

// BackupDir returns the absolute backup root path.
func (c *Config) BackupDir() string { return c.resolve(c.Paths.Backups) }

// EnvFile returns the absolute path of the active environment file.
func (c *Config) EnvFile() string { return c.resolve(c.Paths.EnvFile) }

// ComposeFile returns the absolute path of the orchestration definition.
func (c *Config) ComposeFile() string { return c.resolve(c.Compose.File) }

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Paths.Root, path)
}

// Load config from the deployment .env (if present) and the environment.
func Load() (Config, error) {
	// values already exported in the environment win over the .env file
	_ = godotenv.Load()

	var conf Config
	if err := loadStruct(reflect.ValueOf(&conf).Elem()); err != nil {
		return conf, err
	}

	if root, err := filepath.Abs(conf.Paths.Root); err == nil {
		conf.Paths.Root = root
	}
	return conf, conf.validate()
}

func loadStruct(st reflect.Value) error {
	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		fieldType := st.Type().Field(i)

		// load sub structures
		if fieldType.Type.Kind() == reflect.Struct {
			if err := loadStruct(field); err != nil {
				return err
			}
			continue
		}

		// get conf tag and skip this field if tag does not exist
		tag, ok := fieldType.Tag.Lookup("conf")
		if !ok {
			continue
		}
		splitTag := strings.Split(tag, ",")

		// check if default value exists
		var defaultValue string
		if len(splitTag) > 1 {
			defaultValue = splitTag[1]
		}

		// get value from env
		value, valueGiven := os.LookupEnv(splitTag[0])
		if !valueGiven {
			value = defaultValue
		}

		// set value in struct
		switch fieldType.Type.Kind() {
		case reflect.String:
			field.SetString(value)
		case reflect.Int:
			field.SetInt(cast.ToInt64(value))
		case reflect.Bool:
			field.SetBool(cast.ToBool(value))

		default:
			return fmt.Errorf("unsupported struct field type for %s", fieldType.Name)
		}
	}
	return nil
}
