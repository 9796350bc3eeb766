package terminal

import (
	"context"

	"github.com/m4xw311/arcadechat/agent"
)

// consumeStream runs one stream invocation. Messages of node updates are
// printed as they arrive; interrupts are returned in emission order. The
// first stream error is returned as is.
func (t *Terminal) consumeStream(ctx context.Context, input agent.TurnInput) ([]agent.Interrupt, error) {
	var interrupts []agent.Interrupt
	for update, err := range t.runner.Stream(ctx, input, t.cfg) {
		if err != nil {
			return nil, err
		}
		if len(update.Interrupts) > 0 {
			interrupts = append(interrupts, update.Interrupts...)
			continue
		}
		for _, msg := range update.Messages {
			t.print.assistant(msg.Format())
		}
	}
	return interrupts, nil
}
