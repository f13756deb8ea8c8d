package scmxpertlite_test

import (
	"os"
	"strings"
	"testing"
)

func readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

// composeService はdocker-compose.ymlから指定サービスのブロックを取り出す。
func composeService(content, name string) string {
	lines := strings.Split(content, "\n")
	var block []string
	in := false
	for _, line := range lines {
		if strings.HasPrefix(line, "  "+name+":") {
			in = true
			continue
		}
		if in {
			if strings.HasPrefix(line, "  ") && !strings.HasPrefix(line, "   ") && strings.HasSuffix(strings.TrimSpace(line), ":") {
				break
			}
			if line != "" && !strings.HasPrefix(line, " ") {
				break
			}
			block = append(block, line)
		}
	}
	return strings.Join(block, "\n")
}

func TestDockerfileMultiStageBuild(t *testing.T) {
	content := readFile(t, "Dockerfile")

	// マルチステージビルドの確認: ビルドステージと実行ステージが存在すること
	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	// 最終ステージは軽量イメージであること
	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") && !strings.Contains(lastFrom, "alpine") && !strings.Contains(lastFrom, "scratch") {
		t.Errorf("final stage should use a minimal base image (distroless/alpine/scratch), got: %s", lastFrom)
	}
}

func TestDockerfileBuildsEntrypointBinary(t *testing.T) {
	content := readFile(t, "Dockerfile")

	if !strings.Contains(content, "./cmd/scmxpertlite") {
		t.Error("Dockerfile should build ./cmd/scmxpertlite")
	}
	if !strings.Contains(content, "ENTRYPOINT") {
		t.Error("Dockerfile should contain ENTRYPOINT")
	}
	// distrolessにはシェルがないため、healthcheckサブコマンドを使う
	if !strings.Contains(content, `"healthcheck"`) {
		t.Error("Dockerfile HEALTHCHECK should use the healthcheck subcommand")
	}
}

func TestDockerComposeServices(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	for _, svc := range []string{"api:", "worker:", "migrate:", "db:"} {
		if !strings.Contains(content, "  "+svc) {
			t.Errorf("docker-compose.yml should contain service %q", svc)
		}
	}
	if !strings.Contains(content, "postgres:") {
		t.Error("docker-compose.yml should use PostgreSQL image")
	}
}

func TestDockerComposeSubcommands(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	tests := map[string]string{
		"api":     `["serve"]`,
		"worker":  `["worker"]`,
		"migrate": `["migrate"]`,
	}
	for svc, cmd := range tests {
		if block := composeService(content, svc); !strings.Contains(block, cmd) {
			t.Errorf("service %s should run %s:\n%s", svc, cmd, block)
		}
	}
}

func TestDockerComposeNetworks(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	// DBは内部ネットワークのみ
	if !strings.Contains(content, "internal: true") {
		t.Error("docker-compose.yml should define an internal network (internal: true)")
	}

	// 外部通信はAPIのみ（SMTP、Google、reCAPTCHA）
	if !strings.Contains(composeService(content, "api"), "- external") {
		t.Error("api service should join the external network")
	}
	for _, svc := range []string{"worker", "db", "migrate"} {
		if strings.Contains(composeService(content, svc), "- external") {
			t.Errorf("%s service should not have egress", svc)
		}
	}
}
