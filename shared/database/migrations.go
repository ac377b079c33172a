package database

import "embed"

// MigrationsFS содержит SQL-миграции схемы, применяемые при старте сервиса.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS

// MigrationsDir - путь к миграциям внутри MigrationsFS.
const MigrationsDir = "migrations"
