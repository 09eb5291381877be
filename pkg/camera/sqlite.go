package camera

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS cameras (
	camera_id TEXT PRIMARY KEY,
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	image_url TEXT NOT NULL DEFAULT ''
);
`

// LoadSQLite loads a registry from the cameras table of a SQLite database
func LoadSQLite(dbPath string) (*Registry, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera database: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT camera_id, latitude, longitude, image_url FROM cameras ORDER BY camera_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cameras: %w", err)
	}
	defer rows.Close()

	var cameras []Camera
	for rows.Next() {
		var cam Camera
		if err := rows.Scan(&cam.ID, &cam.Latitude, &cam.Longitude, &cam.ImageURL); err != nil {
			return nil, fmt.Errorf("failed to scan camera row: %w", err)
		}
		cameras = append(cameras, cam)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("camera row iteration failed: %w", err)
	}

	return NewRegistry(cameras)
}

// ImportSQLite writes a camera list into a SQLite database, creating the
// schema if needed and replacing existing rows with the same ID.
func ImportSQLite(dbPath string, cameras []Camera) (int, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open camera database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		return 0, fmt.Errorf("failed to create schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	count := 0
	for _, cam := range cameras {
		if cam.ID == "" {
			continue
		}
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO cameras (camera_id, latitude, longitude, image_url) VALUES (?, ?, ?, ?)`,
			cam.ID, cam.Latitude, cam.Longitude, cam.ImageURL,
		)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to insert camera %s: %w", cam.ID, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit import: %w", err)
	}
	return count, nil
}
