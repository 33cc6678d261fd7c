package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/waclerk/waclerk/internal/botcfg"
	"github.com/waclerk/waclerk/internal/config"
	"github.com/waclerk/waclerk/internal/feature/autoreply"
	"github.com/waclerk/waclerk/internal/ingest"
	"github.com/waclerk/waclerk/internal/llm"
	"github.com/waclerk/waclerk/internal/prompts"
	"github.com/waclerk/waclerk/internal/provider"
	"github.com/waclerk/waclerk/internal/queue"
	"github.com/waclerk/waclerk/internal/session"
	"github.com/waclerk/waclerk/internal/store"
	"github.com/waclerk/waclerk/internal/tokens"
)

// BuilderConfig wires the production session builder.
type BuilderConfig struct {
	Config  *config.Config
	Stores  *store.Stores
	Prompts *prompts.Registry
	LLM     *llm.Factory
	Tokens  *tokens.Service
	Logger  *slog.Logger
}

// NewBuilder returns the production Builder: a queue manager seeded from the
// message archive, the configured chat provider, a drain archiver, and the
// enabled features, assembled into one session.
func NewBuilder(bc BuilderConfig) Builder {
	return func(ctx context.Context, bot botcfg.BotConfig, cbs provider.Callbacks) (*session.Session, error) {
		logger := bc.Logger
		if logger == nil {
			logger = slog.Default()
		}

		seed := func(ctx context.Context, botID, correspondentID string) (int64, error) {
			return bc.Stores.Queues.MaxID(ctx, botID, correspondentID)
		}
		queues := queue.NewManager(bot.BotID, bot.Queue, seed, logger)

		prov, err := provider.New(bot.Provider.Name, provider.Config{
			BotID:     bot.BotID,
			Settings:  bot.Provider,
			BridgeURL: bc.Config.Bridge.WhatsAppServerURL,
			Queues:    queues,
			Callbacks: cbs,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}

		sess := session.New(bot.BotID, queues, prov, logger)

		// The archiver outlives any request context; its final drain runs on
		// session stop.
		arch := ingest.NewArchiver(bot.BotID, bot.Provider.Name, queues, bc.Stores.Queues, logger)
		arch.Start(context.Background())
		sess.RegisterService("archiver", func(context.Context) error {
			arch.Stop()
			return nil
		})

		if fc, ok := bot.Features[botcfg.FeatureAutoReply]; ok && fc.Enabled {
			onUsage := bc.Tokens.UsageFunc(bot.UserID, bot.BotID, botcfg.FeatureAutoReply, llm.TierHigh)
			client, err := bc.LLM.ForTier(llm.TierHigh, bot.LLM.High, onUsage)
			if err != nil {
				return nil, fmt.Errorf("autoreply llm: %w", err)
			}
			reply, err := autoreply.New(autoreply.Config{
				BotID:    bot.BotID,
				Language: bot.Profile.Language,
				Settings: fc,
				Context:  bot.Context,
				Client:   client,
				Prompts:  bc.Prompts,
				Sender:   prov,
				Logger:   logger,
			})
			if err != nil {
				return nil, err
			}
			sess.RegisterMessageHandler("autoreply", reply.HandleMessage)
			sess.RegisterFeature(botcfg.FeatureAutoReply, reply)
		}
		return sess, nil
	}
}
