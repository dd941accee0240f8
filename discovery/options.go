package discovery

import "time"

type config struct {
	host      string
	startPort uint16
	endPort   uint16
	skipPort  uint16
	attempts  uint
	interval  time.Duration
	timeout   time.Duration
}

func defaultConfig() config {
	return config{
		host:      "localhost",
		startPort: 9000,
		endPort:   9010,
		attempts:  1,
		interval:  time.Second,
		timeout:   500 * time.Millisecond,
	}
}

type option func(config) config

func applyOptions(opts []option) config {
	c := defaultConfig()
	for _, opt := range opts {
		c = opt(c)
	}
	return c
}

func WithPortRange(startPort, endPort uint16) option {
	return func(c config) config {
		c.startPort = startPort
		c.endPort = endPort
		return c
	}
}

func WithPort(port uint16) option {
	return WithPortRange(port, port)
}

// WithAttempts sets how many times Scan sweeps the port range.
func WithAttempts(attempts uint) option {
	return func(c config) config {
		c.attempts = attempts
		return c
	}
}

// WithHost sets the host announcements listen on and scans probe.
func WithHost(host string) option {
	return func(c config) config {
		c.host = host
		return c
	}
}

// WithInterval sets the pause between two sweeps.
func WithInterval(d time.Duration) option {
	return func(c config) config {
		c.interval = d
		return c
	}
}

// WithSkipPort excludes a port from scans, typically our own announcement.
func WithSkipPort(port uint16) option {
	return func(c config) config {
		c.skipPort = port
		return c
	}
}
