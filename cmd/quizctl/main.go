package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratePostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/yourusername/livequiz-api/internal/config"
	"github.com/yourusername/livequiz-api/pkg/auth"
)

// quizctl - операционные команды вокруг API: управление миграциями схемы
// и выпуск токенов для локальной разработки.
//
//	quizctl migrate                  применить миграции
//	quizctl migrate -force N         выставить версию N и снять dirty-флаг
//	quizctl migrate -down N          откатить N миграций
//	quizctl token -user ID -email E  выпустить токен разработчика
func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "migrate":
		runMigrate(os.Args[2:])
	case "token":
		runToken(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  quizctl migrate [-path file://migrations] [-force N | -down N]")
	fmt.Fprintln(os.Stderr, "  quizctl token -user ID -email EMAIL [-name NAME] [-ttl 24h]")
}

func loadConfig() *config.Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	sourceURL := fs.String("path", "file://migrations", "путь к миграциям")
	forceVersion := fs.Int("force", -1, "принудительно выставить версию и снять dirty-флаг")
	down := fs.Int("down", 0, "откатить N миграций")
	fs.Parse(args)

	cfg := loadConfig()

	db, err := sql.Open("postgres", cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	driver, err := migratePostgres.WithInstance(db, &migratePostgres.Config{})
	if err != nil {
		log.Fatalf("Failed to create migrate driver: %v", err)
	}

	m, err := migrate.NewWithDatabaseInstance(*sourceURL, "postgres", driver)
	if err != nil {
		log.Fatalf("Failed to create migrate instance: %v", err)
	}

	switch {
	case *forceVersion >= 0:
		// Снимает dirty-флаг после упавшей миграции
		fmt.Printf("Forcing migration version to %d to clean dirty state...\n", *forceVersion)
		if err := m.Force(*forceVersion); err != nil {
			log.Fatalf("Failed to force version: %v", err)
		}
		fmt.Println("Success! Dirty state cleaned. You can now run the app normally.")
	case *down > 0:
		if err := m.Steps(-*down); err != nil {
			log.Fatalf("Failed to roll back migrations: %v", err)
		}
		fmt.Printf("Rolled back %d migration(s).\n", *down)
	default:
		err := m.Up()
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			fmt.Println("No migration changes, database is up to date.")
		case err != nil:
			log.Fatalf("Failed to apply migrations: %v", err)
		default:
			fmt.Println("Migrations applied.")
		}
	}
}

func runToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	userID := fs.String("user", "", "ID пользователя")
	email := fs.String("email", "", "email пользователя")
	name := fs.String("name", "", "отображаемое имя")
	ttl := fs.Duration("ttl", 24*time.Hour, "срок действия токена")
	fs.Parse(args)

	if *userID == "" || *email == "" {
		fs.Usage()
		os.Exit(2)
	}

	cfg := loadConfig()

	tokenService, err := auth.NewTokenService(cfg.Auth.JWTSecret, *ttl)
	if err != nil {
		log.Fatalf("Failed to initialize TokenService: %v", err)
	}

	token, err := tokenService.Issue(*userID, *email, *name)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Println(token)
}
