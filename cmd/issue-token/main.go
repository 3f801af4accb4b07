package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// issue-token mints a learner or proctor JWT for local testing and for
// integrations that cannot reach an identity provider.
func main() {
	var (
		tokenType   string
		userID      string
		permissions string
		askSecret   bool
	)
	flag.StringVar(&tokenType, "type", "learner", "Token type: learner or proctor")
	flag.StringVar(&userID, "user", "", "Subject user ID")
	flag.StringVar(&permissions, "perms", "", "Comma-separated proctor permissions (default: all)")
	flag.BoolVar(&askSecret, "ask-secret", false, "Prompt for the signing secret instead of reading JWT_SECRET")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fail("Invalid configuration: %v", err)
	}

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	if userID == "" {
		fmt.Fprint(os.Stderr, "Enter User ID: ")
		line, _ := reader.ReadString('\n')
		userID = strings.TrimSpace(line)
	}
	if userID == "" {
		fail("Error: User ID is required")
	}

	if askSecret {
		fmt.Fprint(os.Stderr, "Enter JWT Secret: ")
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fail("Error reading secret: %v", err)
		}
		cfg.JWTSecret = strings.TrimSpace(string(secret))
		if cfg.JWTSecret == "" {
			fail("Error: Secret is required")
		}
	}

	authService := service.NewAuthService(cfg)

	var token string
	switch service.TokenType(tokenType) {
	case service.TokenTypeLearner:
		token, err = authService.GenerateLearnerToken(userID)
	case service.TokenTypeProctor:
		token, err = authService.GenerateProctorToken(userID, parsePermissions(permissions))
	default:
		fail("Error: unknown token type %q", tokenType)
	}
	if err != nil {
		fail("Error signing token: %v", err)
	}

	fmt.Println(token)
}

func parsePermissions(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{
			service.PermSessionsRead,
			service.PermSessionsCancel,
			service.PermSessionsReview,
			service.PermExamsPublish,
		}
	}

	var perms []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}
	return perms
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
