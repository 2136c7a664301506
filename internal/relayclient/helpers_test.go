package relayclient

import (
	"context"

	"pawpal-relay/internal/relay"
)

type echoModel struct{}

func (echoModel) Generate(ctx context.Context, p relay.Prompt) (string, error) {
	return "1. Sounds fun!\n\n2. Let's meet at the park\n", nil
}

func (echoModel) Name() string { return "echo" }
