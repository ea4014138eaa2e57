// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command listener is a sample subscriber: it registers a
// std_msgs/String subscription on a topic and prints every message it
// receives until interrupted.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roslibgo/rosnode"
)

var flags struct {
	master   string
	host     string
	topic    string
	nodeName string
}

var rootCmd = &cobra.Command{
	Use:   "listener",
	Short: "subscribe to a std_msgs/String topic and print every message received",
	RunE:  runListener,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.master, "master", "127.0.0.1:11311", "master address (host:port)")
	f.StringVar(&flags.host, "host", "127.0.0.1", "host advertised to the master and to peers")
	f.StringVar(&flags.topic, "topic", "/chatter", "topic to subscribe to")
	f.StringVar(&flags.nodeName, "node-name", "", "node name (empty requests an anonymous name)")
	bindViper(f)
}

func bindViper(f *pflag.FlagSet) {
	viper.SetEnvPrefix("LISTENER")
	viper.AutomaticEnv()
	viper.BindPFlags(f)
}

func runListener(cmd *cobra.Command, args []string) error {
	master := viper.GetString("master")
	host := viper.GetString("host")
	topic := viper.GetString("topic")
	nodeName := viper.GetString("node-name")

	masterHost, masterPortStr, err := net.SplitHostPort(master)
	if err != nil {
		return fmt.Errorf("malformed --master %q: %w", master, err)
	}
	masterPort, err := strconv.Atoi(masterPortStr)
	if err != nil {
		return fmt.Errorf("malformed --master port %q: %w", masterPortStr, err)
	}
	if err := rosnode.WaitPortOpen(masterHost, masterPort, 10*time.Second); err != nil {
		return fmt.Errorf("master not reachable: %w", err)
	}

	n, err := rosnode.NewNode(nodeName, master, rosnode.WithHost(host))
	if err != nil {
		return fmt.Errorf("creating node: %w", err)
	}
	defer n.Close()

	_, err = n.RegisterSubscriber(topic, "std_msgs/String", func(n *rosnode.Node, h rosnode.SlotHandle, msg *rosnode.Message) {
		data, _ := msg.GetString("data")
		color.New(color.FgCyan).Printf("[%s] I heard: %q\n", n.Name(), data)
	})
	if err != nil {
		return fmt.Errorf("registering subscriber: %w", err)
	}

	var flag rosnode.ExitFlag
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		color.New(color.FgYellow).Println("shutting down")
		flag.Signal()
	}()

	if err := n.SpinUntil(0, &flag); err != nil {
		return err
	}
	n.UnregisterAll()
	return n.SpinUntil(2*time.Second, nil)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
