// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command talker is a sample publisher: it registers a std_msgs/String
// publisher on a topic and sends an incrementing-counter message at a
// fixed rate until interrupted.
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
	rateHz   float64
}

var rootCmd = &cobra.Command{
	Use:   "talker",
	Short: "publish an incrementing std_msgs/String message at a fixed rate",
	RunE:  runTalker,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.master, "master", "127.0.0.1:11311", "master address (host:port)")
	f.StringVar(&flags.host, "host", "127.0.0.1", "host advertised to the master and to peers")
	f.StringVar(&flags.topic, "topic", "/chatter", "topic to publish on")
	f.StringVar(&flags.nodeName, "node-name", "", "node name (empty requests an anonymous name)")
	f.Float64Var(&flags.rateHz, "rate", 1.0, "publish rate in Hz")
	bindViper(f)
}

func bindViper(f *pflag.FlagSet) {
	viper.SetEnvPrefix("TALKER")
	viper.AutomaticEnv()
	viper.BindPFlags(f)
}

func runTalker(cmd *cobra.Command, args []string) error {
	master := viper.GetString("master")
	host := viper.GetString("host")
	topic := viper.GetString("topic")
	nodeName := viper.GetString("node-name")
	rateHz := viper.GetFloat64("rate")
	if rateHz <= 0 {
		return fmt.Errorf("--rate must be > 0")
	}
	period := time.Duration(float64(time.Second) / rateHz)

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

	count := 0
	_, err = n.RegisterPublisher(topic, "std_msgs/String", 10, period, func(n *rosnode.Node, h rosnode.SlotHandle) *rosnode.Message {
		msg, err := n.CreateTemplateMessage(h)
		if err != nil {
			return nil
		}
		count++
		msg.SetString("data", fmt.Sprintf("hello world %d", count))
		color.New(color.FgGreen).Printf("[%s] publishing: %q\n", n.Name(), fmt.Sprintf("hello world %d", count))
		return msg
	})
	if err != nil {
		return fmt.Errorf("registering publisher: %w", err)
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
