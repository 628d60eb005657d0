// Command keypoolctl is the administration console for the key pool: list
// keys, inspect health state, add or remove keys for the current session, and
// clear persisted state. Keys are always printed as fingerprints plus a short
// suffix, never in full.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fairyhunter13/keypool/internal/adapter/observability"
	"github.com/fairyhunter13/keypool/internal/app"
	"github.com/fairyhunter13/keypool/internal/config"
	"github.com/fairyhunter13/keypool/internal/domain"
	"github.com/fairyhunter13/keypool/internal/pool"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: keypoolctl <command> [args]

Commands:
  list              list keys with availability
  status            show full health state per key
  add <key>         add a key to the active set
  remove <suffix>   remove the key whose value ends with suffix
  clear             reset all persisted key state
`)
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	slog.SetDefault(observability.SetupLogger(cfg))

	ctx := context.Background()
	mgr, closeStore, err := app.BuildManager(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init:", err)
		os.Exit(1)
	}
	defer closeStore()

	switch flag.Arg(0) {
	case "list":
		listKeys(mgr)
	case "status":
		showStatuses(mgr)
	case "add":
		if flag.NArg() != 2 {
			usage()
		}
		addKey(ctx, mgr, flag.Arg(1))
	case "remove":
		if flag.NArg() != 2 {
			usage()
		}
		removeKey(ctx, mgr, flag.Arg(1))
	case "clear":
		clearState(ctx, mgr)
	default:
		usage()
	}
}

// display renders a credential for terminal output: fingerprint plus the last
// four characters, enough to tell keys apart without exposing the secret.
func display(c domain.Credential) string {
	suffix := string(c)
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return fmt.Sprintf("%s (...%s)", pool.Fingerprint(c), suffix)
}

func listKeys(mgr *pool.Manager) {
	creds := mgr.Credentials()
	if len(creds) == 0 {
		fmt.Println("no keys in pool")
		return
	}
	now := time.Now()
	for i, c := range creds {
		st, _ := mgr.GetStatus(c)
		state := "active"
		if !st.Available(now) {
			state = "cooling"
		}
		fmt.Printf("%d. %s  %s\n", i+1, display(c), state)
	}
}

func showStatuses(mgr *pool.Manager) {
	for _, c := range mgr.Credentials() {
		st, _ := mgr.GetStatus(c)
		fmt.Printf("%s\n", display(c))
		fmt.Printf("  failures: %d\n", st.ConsecutiveFailures)
		if st.CooldownUntil.IsZero() {
			fmt.Printf("  cooldown: none\n")
		} else {
			fmt.Printf("  cooldown until: %s\n", st.CooldownUntil.Format(time.RFC3339))
		}
		if st.LastFailure != nil {
			fmt.Printf("  last failure: %s %s (%s)\n",
				st.LastFailure.Code, st.LastFailure.Message,
				st.LastFailure.At.Format(time.RFC3339))
		}
		if !st.LastUsedAt.IsZero() {
			fmt.Printf("  last used: %s\n", st.LastUsedAt.Format(time.RFC3339))
		}
	}
}

func addKey(ctx context.Context, mgr *pool.Manager, raw string) {
	if err := mgr.Add(ctx, domain.Credential(raw)); err != nil {
		fmt.Fprintln(os.Stderr, "add failed:", err)
		os.Exit(1)
	}
	fmt.Println("key added:", display(domain.Credential(raw)))
	fmt.Println("note: the active set comes from API_KEYS; update it to keep the key across restarts")
}

func removeKey(ctx context.Context, mgr *pool.Manager, suffix string) {
	var match domain.Credential
	for _, c := range mgr.Credentials() {
		s := string(c)
		if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
			if match != "" {
				fmt.Fprintln(os.Stderr, "suffix is ambiguous; use more characters")
				os.Exit(1)
			}
			match = c
		}
	}
	if match == "" {
		fmt.Fprintln(os.Stderr, "no key matches suffix")
		os.Exit(1)
	}
	if err := mgr.Remove(ctx, match); err != nil {
		fmt.Fprintln(os.Stderr, "remove failed:", err)
		os.Exit(1)
	}
	fmt.Println("key removed:", display(match))
}

func clearState(ctx context.Context, mgr *pool.Manager) {
	cleared := 0
	for _, c := range mgr.Credentials() {
		if err := mgr.ReportOutcome(ctx, c, pool.Outcome{Success: true}); err != nil {
			fmt.Fprintln(os.Stderr, "clear failed:", err)
			os.Exit(1)
		}
		cleared++
	}
	fmt.Printf("state cleared for %d keys\n", cleared)
}
