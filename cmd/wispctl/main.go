// wispctl administers a Wisp server's identity store from the command line.
//
// Commands:
//
//	wispctl useradd <username> <password> [display-name...]
//	wispctl users
//	wispctl groups
//
// The store is located via the same config file wispd reads (WISP_CONFIG or
// ./wisp.toml). The file driver has no cross-process lock, so run user
// administration while the server is stopped; under the postgres driver the
// database arbitrates concurrent writers.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wispim/server/internal/config"
	"github.com/wispim/server/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: wispctl <command> [args]

commands:
  useradd <username> <password> [display-name...]   create an account
  users                                             list accounts
  groups                                            list groups
`)
	os.Exit(2)
}

func run() error {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users, err := store.Open(ctx, cfg, zap.NewNop())
	if err != nil {
		return fmt.Errorf("open identity store: %w", err)
	}
	defer users.Close()

	switch os.Args[1] {
	case "useradd":
		return userAdd(ctx, users, os.Args[2:])
	case "users":
		return listUsers(users)
	case "groups":
		return listGroups(users)
	default:
		usage()
	}
	return nil
}

func userAdd(ctx context.Context, users *store.Store, args []string) error {
	if len(args) < 2 {
		usage()
	}
	displayName := ""
	if len(args) >= 3 {
		displayName = strings.Join(args[2:], " ")
	}
	u, err := users.Register(ctx, args[0], args[1], displayName, "")
	if err != nil {
		return err
	}
	fmt.Printf("created user %q (display name %q)\n", u.Username, u.DisplayName)
	return nil
}

func listUsers(users *store.Store) error {
	all := users.Users()
	if len(all) == 0 {
		fmt.Println("no users registered")
		return nil
	}
	fmt.Printf("%-20s %-24s %8s %7s  %s\n", "USERNAME", "DISPLAY NAME", "CONTACTS", "GROUPS", "CREATED")
	for _, u := range all {
		created := time.UnixMilli(u.CreatedAt).Format("2006-01-02")
		fmt.Printf("%-20s %-24s %8d %7d  %s\n", u.Username, u.DisplayName, len(u.Contacts), len(u.Groups), created)
	}
	fmt.Printf("%d user(s)\n", len(all))
	return nil
}

func listGroups(users *store.Store) error {
	all := users.Groups()
	if len(all) == 0 {
		fmt.Println("no groups")
		return nil
	}
	fmt.Printf("%-36s %-24s %-20s %s\n", "ID", "NAME", "OWNER", "MEMBERS")
	for _, g := range all {
		fmt.Printf("%-36s %-24s %-20s %s\n", g.ID, g.Name, g.Owner, strings.Join(g.Members, ", "))
	}
	fmt.Printf("%d group(s)\n", len(all))
	return nil
}
