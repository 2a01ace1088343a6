// aspia-host accepts peer connections and authenticates them with the
// negotiated-cipher SRP handshake, then echoes application frames over the
// secured channel.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jmpoep/aspia/internal/config"
	"github.com/jmpoep/aspia/internal/logging"
	"github.com/jmpoep/aspia/internal/peer"
	"github.com/jmpoep/aspia/pkg/proto"
)

var (
	// version is set by build flags
	version = "dev"
	// commit is set by build flags
	commit = "none"
)

func main() {
	configPath := flag.String("config", "/etc/aspia/host.yaml", "path to configuration file")
	createUser := flag.String("create-user", "", "print a user entry for name:password:group and exit")
	flag.Parse()

	logger := logging.New(logging.LevelInfo, logging.FormatJSON)

	if *createUser != "" {
		if err := runCreateUser(*createUser); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := run(*configPath, logger); err != nil {
		logger.Error("service failed", map[string]any{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}

// runCreateUser computes a fresh verifier record and prints it as a YAML
// snippet ready to paste under the config's users list.
func runCreateUser(arg string) error {
	parts := strings.SplitN(arg, ":", 3)
	if len(parts) != 3 {
		return fmt.Errorf("expected name:password:group, got %q", arg)
	}

	var group int
	if _, err := fmt.Sscanf(parts[2], "%d", &group); err != nil {
		return fmt.Errorf("invalid group %q: %w", parts[2], err)
	}

	user, err := peer.CreateUser(parts[0], parts[1], group, 1)
	if err != nil {
		return err
	}

	fmt.Printf("  - name: %s\n", user.Name)
	fmt.Printf("    group: %d\n", user.Group)
	fmt.Printf("    salt: %s\n", base64.StdEncoding.EncodeToString(user.Salt))
	fmt.Printf("    verifier: %s\n", base64.StdEncoding.EncodeToString(user.Verifier))
	fmt.Printf("    sessions: %d\n", user.Sessions)
	return nil
}

func run(configPath string, logger *logging.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger = logging.New(parseLogLevel(cfg.Logging.Level), parseLogFormat(cfg.Logging.Format))

	logger.Info("host service starting", map[string]any{
		"version":        version,
		"commit":         commit,
		"listen_address": fmt.Sprintf("%s:%d", cfg.Network.Address, cfg.Network.Port),
		"users_count":    len(cfg.Users),
		"anonymous":      cfg.Access.AnonymousAccess,
	})

	userList, err := buildUserList(cfg)
	if err != nil {
		return fmt.Errorf("failed to build user list: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Network.Address, cfg.Network.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
		cancel()
		listener.Close()
	}()

	logger.Info("accepting peer connections")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("host service stopped")
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		go handleConn(conn, cfg, userList, logger)
	}
}

// handleConn runs one handshake and logs the outcome. No session dispatcher
// is attached: after a successful handshake the connection echoes secured
// application frames until the peer disconnects, otherwise it is closed.
func handleConn(conn net.Conn, cfg *config.Config, userList *peer.UserList, logger *logging.Logger) {
	log := logger.WithFields(map[string]any{
		"remote": conn.RemoteAddr().String(),
	})

	channel := peer.NewChannel(conn, logger)
	defer channel.Close()

	auth := peer.NewServerAuthenticator(logger)
	defer auth.Close()

	if err := auth.SetUserList(userList); err != nil {
		log.Error("failed to install user list", map[string]any{"error": err.Error()})
		return
	}
	if key := cfg.PrivateKeyBytes(); key != nil {
		if err := auth.SetPrivateKey(key); err != nil {
			log.Error("failed to install private key", map[string]any{"error": err.Error()})
			return
		}
	}
	access := peer.AnonymousAccessDisable
	if cfg.Access.AnonymousAccess {
		access = peer.AnonymousAccessEnable
	}
	if err := auth.SetAnonymousAccess(access, cfg.Access.AnonymousSessionTypes); err != nil {
		log.Error("failed to set anonymous access", map[string]any{"error": err.Error()})
		return
	}

	code, err := channel.Authenticate(auth)
	if err != nil {
		log.Warn("handshake aborted", map[string]any{"error": err.Error()})
		return
	}
	if code != proto.Success {
		log.Warn("authentication rejected", map[string]any{"result": code.String()})
		return
	}

	log.Info("peer authenticated", map[string]any{
		"username":     auth.UserName(),
		"session_type": auth.SessionType(),
	})

	// No session dispatcher is attached yet; serve a secure echo so the
	// channel ciphers run end to end.
	for {
		frame, err := channel.Receive()
		if err != nil {
			return
		}
		if err := channel.Send(frame); err != nil {
			return
		}
	}
}

func buildUserList(cfg *config.Config) (*peer.UserList, error) {
	users := make([]peer.User, 0, len(cfg.Users))
	for _, entry := range cfg.Users {
		salt, err := base64.StdEncoding.DecodeString(entry.Salt)
		if err != nil {
			return nil, fmt.Errorf("user %q: invalid salt: %w", entry.Name, err)
		}
		verifier, err := base64.StdEncoding.DecodeString(entry.Verifier)
		if err != nil {
			return nil, fmt.Errorf("user %q: invalid verifier: %w", entry.Name, err)
		}

		var flags peer.UserFlags
		if !entry.Disabled {
			flags |= peer.UserEnabled
		}

		users = append(users, peer.User{
			Name:     entry.Name,
			Group:    entry.Group,
			Salt:     salt,
			Verifier: verifier,
			Sessions: entry.Sessions,
			Flags:    flags,
		})
	}
	return peer.NewUserList(users)
}

func parseLogLevel(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.LevelDebug
	case "info":
		return logging.LevelInfo
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func parseLogFormat(format string) logging.LogFormat {
	switch format {
	case "json":
		return logging.FormatJSON
	case "human":
		return logging.FormatHuman
	default:
		return logging.FormatJSON
	}
}
