package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/jnb666/textcnn/nnet"
	"github.com/jnb666/textcnn/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var webOpts struct {
	config   string
	addr     string
	auth     string
	user     string
	password string
}

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Serve the web interface to train the network and view the results",
	Long: `Web serves pages to start and stop training, tune the hyperparameters, view the loss and
error plots, the dev set predictions and the network weights. Config changes are saved to the --config
file. The password for basic auth is read from the TEXTCNN_PASSWORD environment variable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	flags := webCmd.Flags()
	flags.StringVarP(&webOpts.config, "config", "c", "textcnn.json", "config file, created if it does not exist")
	flags.StringVar(&webOpts.addr, "addr", ":8080", "address to listen on")
	flags.StringVar(&webOpts.auth, "auth", web.AuthNone, "authentication: none, basic or pam")
	flags.StringVar(&webOpts.user, "user", "", "user name for basic auth")
}

func serve(ctx context.Context) error {
	conf, err := nnet.LoadConfig(webOpts.config)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("creating config", zap.String("file", webOpts.config))
		err = conf.Save(webOpts.config)
	}
	if err != nil {
		return err
	}
	auth, err := web.NewAuthMiddleware(webOpts.auth, webOpts.user, os.Getenv("TEXTCNN_PASSWORD"))
	if err != nil {
		return err
	}
	net, err := web.NewNetwork(conf, webOpts.config)
	if err != nil {
		return err
	}
	defer net.Release()
	t, err := web.NewTemplates(securecookie.GenerateRandomKey(32))
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              webOpts.addr,
		Handler:           web.NewRouter(net, t, auth),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	fmt.Printf("serving web page at http://localhost%s\n", webOpts.addr)
	select {
	case err = <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
