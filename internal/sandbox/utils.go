package sandbox

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// GenerateProxyEnvVars builds the environment variables a wrapped command
// needs to route traffic through the filtering proxy. These are exported
// even when httpPort/socksPort ports correspond to an empty allowlist, so
// a later updateConfig can open access without re-wrapping the command.
func GenerateProxyEnvVars(httpPort, socksPort int) []string {
	envVars := []string{
		"SANDBOXRUN=1",
		"TMPDIR=/tmp/sandboxrun",
	}

	if httpPort == 0 && socksPort == 0 {
		return envVars
	}

	noProxy := strings.Join([]string{
		"localhost",
		"127.0.0.1",
		"::1",
		"*.local",
		".local",
		"169.254.0.0/16",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
	}, ",")

	envVars = append(envVars,
		"NO_PROXY="+noProxy,
		"no_proxy="+noProxy,
	)

	if httpPort > 0 {
		proxyURL := "http://localhost:" + strconv.Itoa(httpPort)
		envVars = append(envVars,
			"HTTP_PROXY="+proxyURL,
			"HTTPS_PROXY="+proxyURL,
			"http_proxy="+proxyURL,
			"https_proxy="+proxyURL,
		)
	}

	if socksPort > 0 {
		socksURL := "socks5h://localhost:" + strconv.Itoa(socksPort)
		envVars = append(envVars,
			"ALL_PROXY="+socksURL,
			"all_proxy="+socksURL,
			"FTP_PROXY="+socksURL,
			"ftp_proxy="+socksURL,
		)
		envVars = append(envVars,
			"GIT_SSH_COMMAND=ssh -o ProxyCommand='nc -X 5 -x localhost:"+strconv.Itoa(socksPort)+" %h %p'",
		)
	}

	return envVars
}

// DecodeSandboxedCommand reverses EncodeSandboxedCommand, used to recover
// the (possibly truncated) command from a profile's log tag.
func DecodeSandboxedCommand(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
