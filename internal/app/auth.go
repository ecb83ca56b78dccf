package app

import (
	"context"
	"fmt"
	"io"
	"time"
)

// SeedToken stores a refresh token obtained out of band and verifies it by
// exchanging it for an access token.
func (a *App) SeedToken(ctx context.Context, out io.Writer, refreshToken string) error {
	provider, closeProvider, err := a.newTokenProvider(ctx)
	if err != nil {
		return err
	}
	defer closeProvider()

	if err := provider.Seed(ctx, refreshToken); err != nil {
		return err
	}
	tok, err := provider.Refresh(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "token cached (%s), access token valid until %s\n", a.Config.Auth.TokenCache, tok.Expiry.UTC().Format(time.RFC3339))
	return nil
}
