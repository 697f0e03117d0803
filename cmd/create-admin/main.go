package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/logger"
	"timecapsule/backend/internal/service"
	"timecapsule/backend/internal/storage"
	"timecapsule/backend/internal/storage/postgres"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: create-admin <email> <name> [super|admin]")
		fmt.Println("The password is read from ADMIN_PASSWORD or prompted interactively.")
		os.Exit(1)
	}

	email := os.Args[1]
	name := os.Args[2]
	role := domain.RoleAdmin
	if len(os.Args) >= 4 {
		role = domain.UserRole(os.Args[3])
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		fmt.Println("DATABASE_TYPE and DATABASE_DSN are required, an in-memory admin would be lost on exit")
		os.Exit(1)
	}

	log, err := logger.FromConfig(cfg.Log, "timecapsule-create-admin")
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	password, err := readPassword()
	if err != nil {
		fmt.Printf("Failed to read password: %v\n", err)
		os.Exit(1)
	}

	store, err := postgres.Open(&cfg.Database)
	if err != nil {
		fmt.Printf("Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := createAdmin(store, log, email, name, password, role); err != nil {
		fmt.Printf("Failed to create admin: %v\n", err)
		os.Exit(1)
	}
}

func createAdmin(users storage.UserRepository, log *zap.Logger, email, name, password string, role domain.UserRole) error {
	user, created, err := service.NewAdminService(users, log).EnsureAdmin(service.EnsureAdminInput{
		Email:    email,
		Name:     name,
		Password: password,
		Role:     role,
	})
	if err != nil {
		return err
	}

	if created {
		fmt.Printf("✓ Admin user created successfully!\n")
	} else {
		fmt.Printf("✓ Existing user promoted to %s\n", user.Role)
	}
	fmt.Printf("  ID:    %s\n", user.ID)
	fmt.Printf("  Email: %s\n", user.Email)
	fmt.Printf("  Name:  %s\n", user.Name)
	fmt.Printf("  Role:  %s\n", user.Role)
	return nil
}

// readPassword 优先读取环境变量，终端下不回显输入并要求确认
func readPassword() (string, error) {
	if p := os.Getenv("ADMIN_PASSWORD"); p != "" {
		return p, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Print("Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
