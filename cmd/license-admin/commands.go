package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"license-gateway/config"
	"license-gateway/internal/auth"
	"license-gateway/internal/license"
	"license-gateway/internal/vault"
)

type app struct {
	cfg     *config.Config
	admin   *license.Admin
	history license.EventHistory
	keys    *auth.KeyService
	tokens  *auth.JWTManager
	vault   *vault.Client
	out     io.Writer
}

var errUsage = errors.New("unknown command, run license-admin help")

func (a *app) dispatch(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	fs := flag.NewFlagSet(args[0]+" "+args[1], flag.ContinueOnError)
	fs.SetOutput(a.out)

	switch args[0] + " " + args[1] {
	case "product create":
		name := fs.String("name", "", "product name")
		version := fs.String("version", "", "product version")
		price := fs.Float64("price", 0, "list price")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		p, err := a.admin.CreateProduct(ctx, *name, *version, *price)
		if err != nil {
			return err
		}
		return a.print(p)

	case "product retire":
		id := fs.String("id", "", "product id")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		if err := a.admin.RetireProduct(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "product %s retired\n", *id)
		return nil

	case "user create":
		name := fs.String("name", "", "display name")
		company := fs.String("company", "", "company")
		role := fs.String("role", string(license.RoleUser), "user or admin")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		u, err := a.admin.CreateUser(ctx, *name, *company, license.Role(*role))
		if err != nil {
			return err
		}
		return a.print(u)

	case "license create":
		product := fs.String("product", "", "product id")
		user := fs.String("user", "", "user id")
		maxActivations := fs.Int("max", 1, "maximum activations")
		expires := fs.String("expires", "", "expiry date")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		in := license.CreateLicenseInput{ProductID: *product, UserID: *user, MaxActivations: *maxActivations}
		if *expires != "" {
			t, err := parseDate(*expires)
			if err != nil {
				return err
			}
			in.ExpiresAt = &t
		}
		l, err := a.admin.CreateLicense(ctx, in)
		if err != nil {
			return err
		}
		return a.print(l)

	case "license show":
		id := fs.String("id", "", "license id")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		l, err := a.admin.GetLicense(ctx, *id)
		if err != nil {
			return err
		}
		return a.print(l)

	case "license status":
		id := fs.String("id", "", "license id")
		to := fs.String("to", "", "target status")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		status, ok := license.ParseStatus(*to)
		if !ok {
			return fmt.Errorf("unknown status %q", *to)
		}
		l, err := a.admin.SetStatus(ctx, *id, status)
		if err != nil {
			return err
		}
		return a.print(l)

	case "license renew":
		id := fs.String("id", "", "license id")
		expires := fs.String("expires", "", "new expiry date")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		var t time.Time
		if *expires != "" {
			var err error
			if t, err = parseDate(*expires); err != nil {
				return err
			}
		}
		l, err := a.admin.Renew(ctx, *id, t)
		if err != nil {
			return err
		}
		return a.print(l)

	case "license events":
		id := fs.String("id", "", "license id")
		limit := fs.Int("limit", 20, "maximum number of events")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		list, err := a.history.RecentEvents(ctx, *id, *limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tEVENT\tDETAILS")
		for _, e := range list {
			details, _ := json.Marshal(e.Metadata)
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Type, details)
		}
		return w.Flush()

	case "license reset-binding":
		id := fs.String("id", "", "license id")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		l, err := a.admin.ResetBinding(ctx, *id)
		if err != nil {
			return err
		}
		return a.print(l)

	case "key create":
		name := fs.String("name", "", "key name")
		scope := fs.String("scope", string(auth.ScopeClient), "client or admin")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		s, ok := auth.ParseScope(*scope)
		if !ok {
			return fmt.Errorf("unknown scope %q", *scope)
		}
		raw, k, err := a.keys.Generate(ctx, *name, s)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "api key (shown once): %s\n", raw)
		return a.print(k)

	case "key list":
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		keys, err := a.keys.List(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPREFIX\tSCOPE\tCREATED\tREVOKED")
		for _, k := range keys {
			revoked := "-"
			if k.RevokedAt != nil {
				revoked = k.RevokedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.Prefix, k.Scope, k.CreatedAt.Format(time.RFC3339), revoked)
		}
		return w.Flush()

	case "key revoke":
		id := fs.String("id", "", "key id")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		if err := a.keys.Revoke(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "api key %s revoked\n", *id)
		return nil

	case "token issue":
		subject := fs.String("subject", "", "token subject")
		name := fs.String("name", "", "display name")
		scope := fs.String("scope", string(auth.ScopeClient), "client or admin")
		ttl := fs.Duration("ttl", 0, "lifetime, defaults to the configured duration")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		if !a.tokens.Enabled() {
			return errors.New("AUTH_JWT_SECRET is not configured")
		}
		s, ok := auth.ParseScope(*scope)
		if !ok {
			return fmt.Errorf("unknown scope %q", *scope)
		}
		if *subject == "" {
			return errors.New("-subject is required")
		}
		token, expires, err := a.tokens.Issue(*subject, *name, s, *ttl)
		if err != nil {
			return err
		}
		return a.print(map[string]interface{}{"token": token, "expires_at": expires})

	case "vault put":
		if a.vault == nil || !a.vault.IsEnabled() {
			return errors.New("vault is not enabled")
		}
		err := a.vault.StoreSecrets(ctx, vault.Secrets{
			DatabasePassword: a.cfg.DatabaseConfig.Password,
			JWTSecret:        a.cfg.AuthConfig.JWTSecret,
			RedisPassword:    a.cfg.RedisConfig.Password,
			BootstrapAPIKey:  a.cfg.AuthConfig.BootstrapAPIKey,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "secrets written to %s\n", a.cfg.VaultConfig.SecretPath)
		return nil
	}
	return errUsage
}

func (a *app) print(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}
