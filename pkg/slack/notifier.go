package slack

import (
	"context"
	"fmt"
	"strings"

	"github.com/oursky/kube-agent-pool/pkg/ci"
	"github.com/oursky/kube-agent-pool/pkg/pool"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackutilsx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var _ pool.Notifier = (*Notifier)(nil)

const (
	colorYellow = "#d97706" // amber-600
	colorRed    = "#7f1d1d" // red-900
)

// Notifier posts drift repairs to a Slack channel. Messages are queued and
// dropped when the queue is full, so reconciliation never waits on Slack.
type Notifier struct {
	logger    *zap.Logger
	api       *slack.Client
	channelID string
	messages  chan slack.Attachment
}

func NewNotifier(logger *zap.Logger, config *Config, options ...slack.Option) *Notifier {
	logger = logger.Named("slack-notifier")
	options = append([]slack.Option{slack.OptionLog(zap.NewStdLog(logger))}, options...)
	return &Notifier{
		logger:    logger,
		api:       slack.New(config.BotToken, options...),
		channelID: config.ChannelID,
		messages:  make(chan slack.Attachment, config.GetBufferSize()),
	}
}

func (n *Notifier) Start(ctx context.Context, g *errgroup.Group) error {
	g.Go(func() error {
		n.run(ctx)
		return nil
	})
	return nil
}

func (n *Notifier) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-n.messages:
			n.send(ctx, msg)
		}
	}
}

func (n *Notifier) InstancesReaped(ctx context.Context, cluster pool.ClusterConfig, instances []pool.Instance) {
	ids := make([]string, len(instances))
	for i, instance := range instances {
		ids[i] = instance.ID
	}

	n.enqueue(slack.Attachment{
		Color:      colorYellow,
		Title:      fmt.Sprintf("%d instance(s) did not register in time and were terminated.", len(instances)),
		MarkdownIn: []string{"fields"},
		Fields: []slack.AttachmentField{
			{Title: "Namespace", Value: slackutilsx.EscapeMessage(cluster.Namespace), Short: true},
			{Title: "Endpoint", Value: slackutilsx.EscapeMessage(endpointName(cluster)), Short: true},
			{Title: "Instances", Value: codeList(ids)},
		},
	})
}

func (n *Notifier) AgentsReaped(ctx context.Context, agents ci.Agents) {
	n.enqueue(slack.Attachment{
		Color:      colorRed,
		Title:      fmt.Sprintf("%d agent(s) had no instance in any cluster and were removed.", len(agents)),
		MarkdownIn: []string{"fields"},
		Fields: []slack.AttachmentField{
			{Title: "Agents", Value: codeList(agents.IDs())},
		},
	})
}

func (n *Notifier) enqueue(msg slack.Attachment) {
	select {
	case n.messages <- msg:
	default:
		n.logger.Warn("notification queue full, dropping message", zap.String("title", msg.Title))
	}
}

func (n *Notifier) send(ctx context.Context, msg slack.Attachment) {
	_, _, err := n.api.PostMessageContext(ctx, n.channelID, slack.MsgOptionAttachments(msg))
	if err != nil {
		n.logger.Warn("failed to send message",
			zap.Error(err),
			zap.String("channelID", n.channelID),
		)
	}
}

func endpointName(cluster pool.ClusterConfig) string {
	if cluster.Endpoint == "" {
		return "in-cluster"
	}
	return cluster.Endpoint
}

func codeList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = "`" + slackutilsx.EscapeMessage(item) + "`"
	}
	return strings.Join(quoted, ", ")
}
