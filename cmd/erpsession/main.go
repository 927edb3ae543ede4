package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"erp-session-core/internal/branch"
	"erp-session-core/internal/config"
	"erp-session-core/internal/core"
	"erp-session-core/internal/session"
)

func main() {
	cmd := flag.String("cmd", "status", "Command: status|branches|select|login|validate|refresh|logout")
	branchID := flag.String("branch", "", "Branch id (for select)")
	email := flag.String("email", "", "Account email (for login)")
	forget := flag.Bool("forget-branch", false, "Also forget the selected branch (for logout)")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	c, err := core.OpenFromEnv(ctx, config.OSEnv(), core.Options{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := run(ctx, c, *cmd, *branchID, *email, *forget); err != nil {
		c.Logger.Debug("command failed", zap.String("cmd", *cmd), zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		c.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, c *core.Core, cmd, branchID, email string, forget bool) error {
	switch cmd {
	case "status":
		res := c.Resolver.Resolve(ctx)
		fmt.Printf("origin:        %s\n", res.Origin)
		fmt.Printf("branch:        %s (%s)\n", res.BranchID, res.Tier)
		if user := c.Gate.CurrentUser(ctx); user != nil {
			fmt.Printf("authenticated: %s <%s> as %s\n", user.Name, user.Email, user.PrimaryRole.DisplayName)
		} else {
			fmt.Println("authenticated: no")
		}
	case "branches":
		for _, b := range c.Registry.List() {
			marker := " "
			if b.ID == c.Registry.DefaultID() {
				marker = "*"
			}
			fmt.Printf("%s %-12s %-12s %s\n", marker, b.ID, b.DisplayName, b.OriginURL)
		}
	case "select":
		if branchID == "" {
			return errors.New("-branch is required")
		}
		rec, err := c.Gate.SwitchBranch(ctx, branchID)
		if err != nil {
			if errors.Is(err, branch.ErrUnknownBranch) {
				return fmt.Errorf("%w (see -cmd branches)", err)
			}
			return err
		}
		fmt.Printf("selected %s, %s\n", rec.ID, rec.OriginURL)
	case "login":
		if email == "" {
			return errors.New("-email is required")
		}
		password, err := readPassword()
		if err != nil {
			return err
		}
		sess, err := c.Gate.Login(ctx, session.Credentials{Email: email, Password: password})
		if err != nil {
			return err
		}
		fmt.Printf("logged in as %s until %s\n", sess.User.Name, sess.ExpiresAt.Format(time.RFC3339))
	case "validate":
		if !c.Gate.ValidateRemotely(ctx) {
			return errors.New("session not accepted by the backend")
		}
		fmt.Println("session valid")
	case "refresh":
		if err := c.Gate.Refresh(ctx); err != nil {
			return err
		}
		fmt.Println("token refreshed")
	case "logout":
		c.Gate.Logout(ctx, forget)
		fmt.Println("logged out")
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// readPassword takes ERP_PASSWORD, or the first line of stdin.
func readPassword() (string, error) {
	if p := os.Getenv("ERP_PASSWORD"); p != "" {
		return p, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
