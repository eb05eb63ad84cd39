package main

import (
	"context"
	"fmt"
	"os"
	"time"

	cli "github.com/spf13/pflag"

	"receptionist/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", "/tmp/receptionist.sock", "Control socket path")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: receptionist-ctl [-s socket] stop|ping\n")
		cli.PrintDefaults()
	}
	cli.Parse()

	cmd := ipc.CmdPing
	if cli.NArg() > 0 {
		cmd = cli.Arg(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := ipc.SendCommand(ctx, *socket, cmd)
	if err != nil {
		fmt.Println("receptionist not running:", err)
		os.Exit(1)
	}

	fmt.Println(reply.State)
}
