// Package postgres covers deployments that back the automation server with a
// PostgreSQL database instead of the bundled SQLite file.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cast"

	"gitlab.com/tbuchert/flowkeeper/internal/config"
)

// Connection used for connection checks and dumps
type Connection struct {
	Config config.DatabaseConfig

	ConnectionString string
}

// NewConnection from the given configuration
func NewConnection(conf config.DatabaseConfig) *Connection {
	return &Connection{
		Config: conf,
		ConnectionString: fmt.Sprintf("postgres://%s:%s@%s:%d?sslmode=disable",
			conf.Username, conf.Password,
			conf.Host, conf.Port),
	}
}

// WaitForConnection for a maximum of duration
func (c *Connection) WaitForConnection(duration time.Duration) error {
	db, err := sql.Open("postgres", c.ConnectionString)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	defer db.Close()

	// ticker to check every second for a connection
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	timeoutExceeded := time.After(duration)
	for {
		select {
		case <-timeoutExceeded:
			return errors.New("timeout while trying to connect to database")

		case <-ticker.C:
			err = db.Ping()
			if err == nil {
				return nil
			}
		}
	}
}

// dumpCmd builds the pg_dump invocation
func (c *Connection) dumpCmd() *exec.Cmd {
	cmd := exec.Command("pg_dump",
		"-h", c.Config.Host,
		"-p", cast.ToString(c.Config.Port),
		"-U", c.Config.Username,
		c.Config.Database)

	// set PGPASSWORD env variable
	env := os.Environ()
	env = append(env, "PGPASSWORD="+c.Config.Password)
	cmd.Env = env

	return cmd
}

// Dump the database to the given writer via pg_dump
func (c *Connection) Dump(writer io.Writer) error {
	cmd := c.dumpCmd()

	// redirect stdout to backup writer
	cmd.Stdout = writer
	cmd.Stderr = os.Stderr

	return cmd.Run()
}
