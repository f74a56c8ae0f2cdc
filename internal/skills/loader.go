package skills

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"pulsebot/internal/config"
)

// Build assembles the full registry for one deployment: requested built-in
// coded skills, instruction skills discovered from local and S3 skill_dirs
// (s3:// entries are skipped when s3Client is nil), the bridge skill (only
// when instruction skills were found), and MCP servers. Disabled skill names
// are dropped before registration. Each cfg.MCPServers entry reaches
// ConnectMCPServer as a name only, with no command or URL, so it fails to
// connect and is logged and skipped.
//
// Discovered instruction-skill manifests are cached in rdb for cfg.CacheTTLSec
// (default 10m) keyed by the configured skill_dirs, so repeated restarts of
// the same deployment skip the directory/S3 scan. rdb may be nil, in which
// case Build always scans live.
func Build(ctx context.Context, cfg config.SkillsConfig, search config.SearchConfig, workdir string, s3Client *s3.Client, httpClient *http.Client, rdb *redis.Client) (*Registry, error) {
	reg := NewRegistry()
	disabled := toSet(cfg.DisabledSkills)

	for _, name := range cfg.Builtin {
		if disabled[name] {
			continue
		}
		sk, err := buildBuiltin(name, workdir, search, httpClient)
		if err != nil {
			return nil, err
		}
		if sk == nil {
			continue
		}
		if err := reg.Register(sk); err != nil {
			return nil, err
		}
	}

	cache := newManifestCache(rdb, cfg.CacheTTLSec)
	instructions, ok := cache.get(ctx, cfg.SkillDirs)
	if !ok {
		var localDirs []string
		for _, d := range cfg.SkillDirs {
			if strings.HasPrefix(d, "s3://") {
				if s3Client != nil {
					instructions = append(instructions, LoadInstructionSkillsFromS3(ctx, s3Client, d)...)
				}
				continue
			}
			localDirs = append(localDirs, d)
		}
		instructions = append(instructions, LoadInstructionSkills(localDirs)...)
		cache.set(ctx, cfg.SkillDirs, instructions)
	}

	if len(instructions) > 0 {
		if err := reg.Register(newBridgeSkill(instructions)); err != nil {
			return nil, err
		}
	}

	for _, name := range cfg.MCPServers {
		sk, err := ConnectMCPServer(ctx, MCPServerConfig{Name: name}, httpClient)
		if err != nil {
			log.Warn().Err(err).Str("server", name).Msg("mcp server unreachable, skipping")
			continue
		}
		if err := reg.Register(sk); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

func buildBuiltin(name, workdir string, search config.SearchConfig, httpClient *http.Client) (Skill, error) {
	switch name {
	case "shell":
		return NewShellSkill(workdir, defaultBlockedBinaries(), 30*time.Second), nil
	case "files":
		return NewFileSkill(workdir, nil), nil
	case "web_search":
		return NewWebSearchSkill(search.Provider, search.URL, search.Credentials, httpClient), nil
	case "web_read":
		return NewWebReadSkill(httpClient), nil
	default:
		log.Warn().Str("skill", name).Msg("unknown built-in skill name, skipping")
		return nil, nil
	}
}

func defaultBlockedBinaries() []string {
	return []string{"rm", "dd", "mkfs", "shutdown", "reboot", "sudo", "su", "kill", "killall"}
}

func toSet(vals []string) map[string]bool {
	s := make(map[string]bool, len(vals))
	for _, v := range vals {
		s[v] = true
	}
	return s
}
