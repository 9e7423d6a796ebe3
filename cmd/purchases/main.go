package main

import (
	"flag"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"purchases"
	"purchases/internal/config"
	"purchases/internal/devicecache"
	"purchases/internal/storebridge"
	"purchases/pkg/apiserver"
)

func main() {
	cmd := newPurchasesCommand()
	flag.Parse()
	defer glog.Flush()

	if err := cmd.Execute(); err != nil {
		glog.Fatalln(err)
	}
}

func newPurchasesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purchases",
		Short: "In-app purchase reconciliation daemon",
		Long:  `The purchases daemon reconciles platform store transactions with the subscription backend and serves entitlement state over a REST API`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run()
		},
	}

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	return cmd
}

func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	bridge := storebridge.New(cfg.StoreGatewayURL, cfg.StorePollInterval())
	bridge.Start()
	defer bridge.Close()

	platform := purchases.Platform{
		PaymentQueue:    bridge,
		ProductsFetcher: bridge,
		ReceiptProvider: bridge,
	}
	if kv, err := devicecache.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); err != nil {
		glog.Warningf("redis unavailable, falling back to in-memory cache: %v", err)
	} else {
		platform.CacheStore = kv
	}

	client, err := purchases.Configure(cfg, platform, "", nil)
	if err != nil {
		return err
	}
	defer client.Close()

	s, err := apiserver.New(cfg, client)
	if err != nil {
		return err
	}

	if err = s.PrepareRun(); err != nil {
		return err
	}

	glog.Infof("Start listening on %s", s.Server.Addr)
	return s.Run()
}
