package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	log "voxline-server-golang/logger"
)

// Init loads the config file and starts watching it. Reload only affects
// values read per call (turn timings, prompts); components that snapshot
// config at call start pick changes up on the next call.
func Init(configFile string) error {
	viper.SetConfigFile(configFile)
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", configFile, err)
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Infof("config file changed: %s", e.Name)
	})
	viper.WatchConfig()
	return nil
}

func setDefaults() {
	viper.SetDefault("server.addr", ":8989")
	viper.SetDefault("server.media_path", "/call/media")

	viper.SetDefault("log.path", "logs")
	viper.SetDefault("log.file", "server.log")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.stdout", true)

	viper.SetDefault("chat.system_prompt",
		"You are a friendly phone assistant. Keep answers short and conversational; you are speaking, not writing. "+
			"Use the available tools to transfer the call, send a text message, or end the call when the caller is done.")
	viper.SetDefault("chat.silence_flush_ms", 700)
	viper.SetDefault("chat.long_silence_seconds", 15)
	viper.SetDefault("chat.barge_in_ms", 400)
	viper.SetDefault("chat.vad_sensitivity", 0.02)
	viper.SetDefault("chat.soft_answer_seconds", 10)
	viper.SetDefault("chat.hard_answer_seconds", 30)
	viper.SetDefault("chat.loading_interval_seconds", 5)
	viper.SetDefault("chat.max_turn_depth", 3)
	viper.SetDefault("chat.transcript_timeout_ms", 1500)
	viper.SetDefault("chat.tts_drain_seconds", 120)
	viper.SetDefault("chat.tts_lead_ms", 120)

	viper.SetDefault("aec.max_delay_ms", 500)
	viper.SetDefault("aec.frame_timeout_multiple", 4)
	viper.SetDefault("aec.pull_timeout_multiple", 1.5)
	viper.SetDefault("aec.workers", 5)

	viper.SetDefault("llm.fast_attempts", 2)
	viper.SetDefault("llm.slow_attempts", 3)
	viper.SetDefault("llm.backoff_initial", "200ms")

	viper.SetDefault("store.provider", "memory")
	viper.SetDefault("redis.host", "127.0.0.1")
	viper.SetDefault("redis.port", 6379)
}
