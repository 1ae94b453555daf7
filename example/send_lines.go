package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"daq"

	"github.com/tarm/serial"
)

// 模拟单片机: 向串口 (或 stdout) 持续发送 "毫秒 信号1 信号2 ..." 格式的行
func main() {
	portName := flag.String("port", "", "serial port to write to (empty: stdout)")
	baudRate := flag.Int("baud", daq.DefaultBaudRate, "baud rate")
	signals := flag.Int("signals", 2, "number of signals per line")
	rate := flag.Float64("rate", 100, "lines per second")
	withTime := flag.Bool("time", true, "prefix each line with a millisecond timestamp")
	flag.Parse()

	if err := daq.ValidateBaudRate(*baudRate); err != nil {
		log.Fatal(err)
	}
	if *rate <= 0 || *signals <= 0 {
		log.Fatal("rate and signals must be positive")
	}

	out := os.Stdout
	var port *serial.Port
	if *portName != "" {
		var err error
		port, err = serial.OpenPort(&serial.Config{Name: *portName, Baud: *baudRate})
		if err != nil {
			log.Fatalf("Failed to open serial port: %v\n", err)
		}
		defer port.Close()
		fmt.Fprintf(os.Stderr, "Sending to %s at %d baud\n", *portName, *baudRate)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	interval := time.Duration(float64(time.Second) / *rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	var sb strings.Builder
	for {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "Bye.")
			return
		case now := <-ticker.C:
			ms := now.Sub(start).Milliseconds()
			t := float64(ms) / 1000

			sb.Reset()
			if *withTime {
				fmt.Fprintf(&sb, "%d", ms)
			}
			// 每个信号一个不同频率的正弦
			for i := 0; i < *signals; i++ {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				freq := float64(i + 1)
				fmt.Fprintf(&sb, "%.4f", math.Sin(2*math.Pi*freq*t))
			}
			sb.WriteString("\r\n")

			var err error
			if port != nil {
				_, err = port.Write([]byte(sb.String()))
			} else {
				_, err = out.WriteString(sb.String())
			}
			if err != nil {
				log.Printf("Error writing line: %v\n", err)
				return
			}
		}
	}
}
