package host

import (
	"context"

	"github.com/idlehands/idlehands/pkg/agent"
	"github.com/idlehands/idlehands/pkg/channels"
)

// Dispatch routes an inbound channel message into the agent loop and
// returns the reply text. It is the single ingress path for every
// channel, the gateway, and the heartbeat.
func (d *Daemon) Dispatch(ctx context.Context, msg channels.InboundMessage) (string, error) {
	d.metrics.ChannelInboundTotal.WithLabelValues(msg.Channel).Inc()

	result, err := d.runner.Ask(ctx, agent.AskRequest{
		SessionKey:  msg.SessionKey().String(),
		Instruction: msg.Content,
		Metadata:    msg.Metadata,
	})
	if err != nil {
		return "", err
	}

	d.metrics.ChannelOutboundTotal.WithLabelValues(msg.Channel).Inc()
	return result.Reply, nil
}
