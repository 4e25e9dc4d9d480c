package main

import (
	"fmt"
	"log"

	"github.com/rrader/po2bot/bot"
	botconfig "github.com/rrader/po2bot/bot/config"
	corecmd "github.com/rrader/po2bot/core/cmd"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return botconfig.Load(path)
		},
		Bootstrap: func(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			cfg, ok := carrier.(*botconfig.Config)
			if !ok {
				return nil, fmt.Errorf("unexpected config type %T", carrier)
			}
			return bot.New(cfg)
		},
	})
	if err != nil {
		log.Fatalf("po2bot: %v", err)
	}
}
