package credcore_test

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/credcore"
	"github.com/MrEthical07/credcore/jwt"
	"github.com/MrEthical07/credcore/session"
	"github.com/MrEthical07/credcore/userstore"
)

func Example() {
	key, err := jwt.NewHMACKey("2026-01", []byte(strings.Repeat("k", jwt.MinHMACSecretBytes)))
	if err != nil {
		panic(err)
	}
	ring, err := jwt.NewKeyring("2026-01", key)
	if err != nil {
		panic(err)
	}

	cfg := credcore.DefaultConfig()
	cfg.Password.BcryptCost = 4

	engine, err := credcore.New().
		WithConfig(cfg).
		WithKeyring(ring).
		WithUserProvider(userstore.NewMemoryStore()).
		WithSessionStore(session.NewMemoryStore()).
		Build()
	if err != nil {
		panic(err)
	}
	defer engine.Close()

	ctx := context.Background()
	user, err := engine.Register(ctx, "alice@example.com", "correct-horse-battery")
	if err != nil {
		panic(err)
	}

	pair, err := engine.Login(ctx, "alice@example.com", "correct-horse-battery")
	if err != nil {
		panic(err)
	}

	id, err := engine.Authenticate("Bearer " + pair.AccessToken)
	if err != nil {
		panic(err)
	}
	fmt.Println("subject matches:", id.Subject == user.UserID)

	next, err := engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		panic(err)
	}
	fmt.Println("same session:", next.SessionID == pair.SessionID)

	_, err = engine.Refresh(ctx, pair.RefreshToken)
	fmt.Println("replay detected:", errors.Is(err, credcore.ErrRefreshReplayDetected))

	// Output:
	// subject matches: true
	// same session: true
	// replay detected: true
}
