package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/iAnanich/tgbot-member-presence/internal/config"
	"github.com/iAnanich/tgbot-member-presence/internal/logging"
	"github.com/iAnanich/tgbot-member-presence/internal/model/roster"
	"github.com/iAnanich/tgbot-member-presence/internal/store"
)

type options struct {
	mode   string
	chatID string
	to     string
}

func main() {
	logger, _ := logging.New("info", true)

	if err := godotenv.Load(); err != nil {
		logger.Debug().Err(err).Msg("无法加载 .env，改用系统环境变量")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("配置加载失败")
	}

	var opts options
	flag.StringVar(&opts.mode, "mode", "", "操作模式: show、migrate 或 copy")
	flag.StringVar(&opts.chatID, "chat", "", "show 模式下要查看的 chat id")
	flag.StringVar(&opts.to, "to", "", "copy 模式的目标存储: sqlite、postgres 或 redis")
	timeout := flag.Duration("timeout", 2*time.Minute, "整体超时时间")

	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	err = run(ctx, cfg.Store, opts, os.Stdout, logger)
	cancel()
	if err != nil {
		if errors.Is(err, errUnknownMode) {
			flag.Usage()
		}
		logger.Fatal().Err(err).Str("mode", opts.mode).Msg("执行失败")
	}
}

var errUnknownMode = errors.New("请通过 -mode=show、-mode=migrate 或 -mode=copy 指定操作模式")

// run 打开源存储并执行所选模式；所有清理都在返回前完成。
func run(ctx context.Context, storeCfg config.StoreConfig, opts options, out io.Writer, logger zerolog.Logger) error {
	switch opts.mode {
	case "show", "migrate", "copy":
	default:
		return errUnknownMode
	}
	if opts.mode == "show" && opts.chatID == "" {
		return errors.New("show 模式需要通过 -chat 指定 chat id")
	}

	src, err := store.Open(ctx, storeCfg)
	if err != nil {
		return fmt.Errorf("打开存储 %s 失败: %w", storeCfg.Backend, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭存储失败")
		}
	}()

	switch opts.mode {
	case "show":
		if err := runShow(ctx, src, roster.ChatID(opts.chatID), out); err != nil {
			return fmt.Errorf("读取名册失败: %w", err)
		}
	case "migrate":
		n, err := runMigrate(ctx, src, logger)
		if err != nil {
			return fmt.Errorf("迁移失败: %w", err)
		}
		logger.Info().Int("records", n).Int("schema_version", roster.SchemaVersion).Msg("迁移完成")
	case "copy":
		n, err := runCopy(ctx, src, storeCfg, opts.to)
		if err != nil {
			return fmt.Errorf("复制失败: %w", err)
		}
		logger.Info().Int("records", n).Str("to", opts.to).Msg("复制完成")
	}
	return nil
}

func runShow(ctx context.Context, st roster.Store, chatID roster.ChatID, w io.Writer) error {
	r, found, err := st.Load(ctx, chatID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("chat %s has no roster", chatID)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// runMigrate 逐条读取并重写记录，读取时完成旧版本迁移，写回时使用当前版本。
func runMigrate(ctx context.Context, st roster.Store, logger zerolog.Logger) (int, error) {
	lister, ok := st.(roster.Lister)
	if !ok {
		return 0, fmt.Errorf("store %T cannot list its records", st)
	}
	ids, err := lister.ChatIDs(ctx)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for _, id := range ids {
		r, found, err := st.Load(ctx, id)
		if err != nil {
			return migrated, fmt.Errorf("load %s: %w", id, err)
		}
		if !found {
			continue
		}
		if err := st.Save(ctx, id, r); err != nil {
			return migrated, fmt.Errorf("save %s: %w", id, err)
		}
		logger.Debug().Str("chat_id", id.String()).Int("members", len(r.Members)).Msg("记录已重写")
		migrated++
	}
	return migrated, nil
}

func runCopy(ctx context.Context, src roster.Store, storeCfg config.StoreConfig, to string) (int, error) {
	switch to {
	case config.BackendSQLite, config.BackendPostgres, config.BackendRedis:
	default:
		return 0, fmt.Errorf("copy 模式需要通过 -to 指定 sqlite、postgres 或 redis，收到 %q", to)
	}
	if to == storeCfg.Backend {
		return 0, fmt.Errorf("source and destination are both %s", to)
	}

	storeCfg.Backend = to
	dst, err := store.Open(ctx, storeCfg)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	return store.Copy(ctx, src, dst)
}
