package gmail

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// errNoRedirect signals that the loopback flow never produced a code and the
// manual paste flow should run instead.
var errNoRedirect = errors.New("no loopback redirect")

// NewService builds an OAuth-backed Gmail service using:
//   - client credentials at <configDir>/client_secret.json
//   - a token cache at <configDir>/token.json
//
// Scopes are gmail.readonly plus gmail.modify (label application). A cached
// token is validated with a profile probe; a stale one is removed and the
// browser flow runs again.
func NewService(ctx context.Context, configDir string) (*gmailv1.Service, error) {
	credPath := filepath.Join(configDir, "client_secret.json")
	b, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials at %s: %w", credPath, err)
	}

	cfg, err := google.ConfigFromJSON(b,
		gmailv1.GmailReadonlyScope,
		gmailv1.GmailModifyScope,
	)
	if err != nil {
		return nil, fmt.Errorf("parse oauth config: %w", err)
	}

	tokFile := filepath.Join(configDir, "token.json")
	if tok, err := readToken(tokFile); err == nil {
		svc, err := serviceFor(ctx, cfg, tok)
		if err == nil {
			if _, err = svc.Users.GetProfile(user).Do(); err == nil {
				return svc, nil
			}
		}
		os.Remove(tokFile)
	}

	tok, err := tokenFromWeb(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := saveToken(tokFile, tok); err != nil {
		return nil, err
	}
	return serviceFor(ctx, cfg, tok)
}

func serviceFor(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token) (*gmailv1.Service, error) {
	svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

func readToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(tmp, path)
}

// tokenFromWeb runs the browser authorization flow, capturing the redirect on
// a loopback server when possible and falling back to manual code paste.
func tokenFromWeb(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	tok, err := tokenViaLoopback(ctx, cfg)
	if errors.Is(err, errNoRedirect) {
		return tokenViaPaste(ctx, cfg)
	}
	return tok, err
}

func tokenViaLoopback(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errNoRedirect
	}
	port := ln.Addr().(*net.TCPAddr).Port

	// The exchange must see the same redirect the consent screen used, so
	// work on a copy of the config.
	loopback := *cfg
	loopback.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d/", port)

	codeCh := make(chan string, 1)
	mux := http.NewServeMux()
	srv := &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "Missing 'code' parameter", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authorization complete. You can close this window.")
		select {
		case codeCh <- code:
		default:
		}
	})
	go func() { _ = srv.Serve(ln) }()
	defer srv.Shutdown(context.Background())

	authURL := loopback.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintln(os.Stderr, "Open this URL in your browser to authorize gmaildu:")
	fmt.Fprintln(os.Stderr, authURL)
	fmt.Fprintf(os.Stderr, "Waiting for the redirect on %s ...\n", loopback.RedirectURL)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case code := <-codeCh:
		return exchange(ctx, &loopback, code)
	case <-time.After(2 * time.Minute):
		fmt.Fprintln(os.Stderr, "Timed out waiting for the redirect; falling back to manual paste.")
		return nil, errNoRedirect
	}
}

func tokenViaPaste(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintln(os.Stderr, "Open this URL in your browser to authorize gmaildu:")
	fmt.Fprintln(os.Stderr, authURL)
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Paste the auth code or the full redirect URL, then press Enter.")
	fmt.Fprint(os.Stderr, "> ")

	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 1024), 1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read auth code: %w", err)
		}
		return nil, errors.New("empty authorization code")
	}
	code, err := extractCode(sc.Text())
	if err != nil {
		return nil, err
	}
	return exchange(ctx, cfg, code)
}

// extractCode accepts either a bare authorization code or the full redirect
// URL the browser landed on.
func extractCode(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty authorization code")
	}
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		u, err := url.Parse(input)
		if err != nil {
			return "", fmt.Errorf("parse redirect URL: %w", err)
		}
		code := u.Query().Get("code")
		if code == "" {
			return "", errors.New("no 'code' parameter found in pasted URL")
		}
		return code, nil
	}
	return input, nil
}

func exchange(ctx context.Context, cfg *oauth2.Config, code string) (*oauth2.Token, error) {
	tok, err := cfg.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	return tok, nil
}
