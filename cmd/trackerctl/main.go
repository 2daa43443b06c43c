// Command trackerctl is a small operator tool for a running tracker. Its one
// subcommand, status, fetches the admin snapshot and prints a readable
// summary of live sessions, daemons and waiting entries.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/breedhub/bhit-node/pkg/config"
	"github.com/breedhub/bhit-node/pkg/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
)

func main() {
	addr := flag.String("addr", "http://localhost:42000", "tracker base URL")
	secret := flag.String("secret", "", "admin JWT secret (defaults to the config file value)")
	flag.Parse()

	if flag.NArg() < 1 || flag.Arg(0) != "status" {
		fmt.Fprintln(os.Stderr, "usage: trackerctl [-addr URL] [-secret SECRET] status")
		os.Exit(2)
	}

	if *secret == "" {
		cfg, err := config.Load(logging.New(logging.LevelError), "config")
		if err != nil {
			fmt.Fprintf(os.Stderr, "trackerctl: loading config: %v\n", err)
			os.Exit(1)
		}
		*secret = cfg.Server.Admin.JWTSecret
	}

	body, err := fetchStatus(*addr, *secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trackerctl: %v\n", err)
		os.Exit(1)
	}
	printStatus(body)
}

func fetchStatus(addr, secret string) ([]byte, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "trackerctl",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("signing admin token: %w", err)
	}

	req, err := http.NewRequest(http.MethodGet, addr+"/status", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+signed)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker returned %s: %s", resp.Status, body)
	}
	return body, nil
}

func printStatus(body []byte) {
	doc := gjson.ParseBytes(body)

	sessions := doc.Get("sessions")
	fmt.Printf("sessions (%d):\n", len(sessions.Array()))
	sessions.ForEach(func(_, s gjson.Result) bool {
		line := fmt.Sprintf("  %s  %s", s.Get("id").String(), s.Get("remoteAddr").String())
		if name := s.Get("daemonName").String(); name != "" {
			line += "  " + name
		}
		if status := s.Get("status"); status.Exists() {
			line += fmt.Sprintf("  serving %d", len(status.Array()))
		}
		fmt.Println(line)
		return true
	})

	daemons := doc.Get("daemons")
	fmt.Printf("daemons (%d):\n", len(daemons.Array()))
	daemons.ForEach(func(_, d gjson.Result) bool {
		fmt.Printf("  #%d  %s?%s  sessions=%d\n",
			d.Get("id").Int(),
			d.Get("email").String(),
			d.Get("name").String(),
			len(d.Get("sessions").Array()),
		)
		return true
	})

	waiting := doc.Get("waiting")
	fmt.Printf("waiting (%d):\n", len(waiting.Array()))
	waiting.ForEach(func(_, w gjson.Result) bool {
		server := w.Get("server").String()
		if server == "" {
			server = "<none>"
		}
		fmt.Printf("  %s  server=%s  clients=%d\n",
			w.Get("name").String(), server, len(w.Get("clients").Array()))
		return true
	})
}
