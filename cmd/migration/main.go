package main

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/lib/pq"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/pdfbot/slack-pdf-backend/config"
)

func dbExistsOrCreate(databaseConfig config.DatabaseConfig) error {
	maintenance := databaseConfig
	maintenance.Name = "postgres"

	db, err := sql.Open("postgres", pqDSN(maintenance))
	if err != nil {
		return err
	}

	defer db.Close()

	// Open() may just validate its arguments without creating a connection to the database.
	// To verify that the data source name is valid, call Ping().
	if err = db.Ping(); err != nil {
		return err
	}

	var count int
	q := "SELECT count(*) FROM pg_catalog.pg_database WHERE datname = $1;"
	if err := db.QueryRow(q, databaseConfig.Name).Scan(&count); err != nil {
		return err
	}

	if count > 0 {
		return nil
	}

	fmt.Printf("Create database %s\n", databaseConfig.Name)
	if _, err := db.Exec(fmt.Sprintf("CREATE DATABASE %s;", pq.QuoteIdentifier(databaseConfig.Name))); err != nil {
		return err
	}

	return nil
}

func pqDSN(databaseConfig config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=%s",
		databaseConfig.Host,
		databaseConfig.Username,
		databaseConfig.Password,
		databaseConfig.Name,
		databaseConfig.Port,
		databaseConfig.TimeZone,
	)
}

func migrateURL(databaseConfig config.DatabaseConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(databaseConfig.Username, databaseConfig.Password),
		Host:     fmt.Sprintf("%s:%d", databaseConfig.Host, databaseConfig.Port),
		Path:     databaseConfig.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func main() {
	if err := config.Init(config.ParseConfigFlag()); err != nil {
		panic(err)
	}

	databaseConfig := config.Config.Database
	if err := dbExistsOrCreate(databaseConfig); err != nil {
		panic(err)
	}

	migrateFolder, _ := os.Getwd()
	m, err := migrate.New(fmt.Sprintf("file:///%s/pkg/db/migration", migrateFolder), migrateURL(databaseConfig))
	if err != nil {
		panic(err)
	}

	expectedVersion := databaseConfig.Version
	curVersion, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		panic(err)
	}

	fmt.Printf("Expected migration version is %d\n", expectedVersion)
	fmt.Printf("The current schema version is %d, and dirty flag is %t\n", curVersion, dirty)
	if dirty {
		panic("the database's dirty flag is set, please fix it")
	}

	step := curVersion
	for {
		if expectedVersion <= step {
			fmt.Printf("Migration to version %d complete\n", expectedVersion)
			break
		}

		fmt.Printf("Step up to version %d\n", step+1)
		if err := m.Steps(1); err != nil {
			panic(err)
		}

		step, _, err = m.Version()
		if err != nil {
			panic(err)
		}
	}
}
