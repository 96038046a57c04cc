// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/layerkit/layerkit/internal/fault"
	"github.com/layerkit/layerkit/internal/shell"
	"github.com/layerkit/layerkit/pkg/manifest"
)

// ContextSourcesDir is the build-context directory holding staged sources.
const ContextSourcesDir = "sources"

var aptUpdate = shell.Command{Args: []string{"apt-get", "update"}}

// ContextPath returns where src is staged inside the build context.
func ContextPath(src manifest.Source) string {
	return ContextSourcesDir + "/" + src.Name
}

// Render writes the provisioning layer of b as a Dockerfile. Steps appear in
// plan order, one instruction block per step, so the image is provisioned
// in the same order a build on a live root would use. Every source is
// copied from ContextPath; ImageBuilder lays out the context that way.
func Render(b *Build) (string, error) {
	m := b.Manifest
	if m.Base == "" {
		return "", fault.Newf(fault.KindInvalidManifest, m.Name, "base image is required to render a Dockerfile")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "FROM %s\n\n", m.Base)
	fmt.Fprintf(&sb, "# layerkit provisioning layer for %s\n", m.Name)
	if len(m.Sources) > 0 {
		fmt.Fprintf(&sb, "# Sources are read from %s/<name> in the build context.\n", ContextSourcesDir)
	}

	for _, name := range b.Plan.Order() {
		layer := b.layers[name]
		if len(layer) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n# %s\n", name)
		for _, instr := range layer {
			sb.WriteString(instr)
			sb.WriteByte('\n')
		}
	}

	if len(m.Entrypoint) > 0 || m.Workdir != "" || m.Identity != nil || m.Prefix != "" {
		sb.WriteString("\n# Runtime\n")
	}
	if m.Prefix != "" {
		fmt.Fprintf(&sb, "ENV LAYERKIT_PREFIX=%s\n", strconv.Quote(m.Prefix))
	}
	if m.Workdir != "" {
		fmt.Fprintf(&sb, "WORKDIR %s\n", m.Workdir)
	}
	if m.Identity != nil {
		fmt.Fprintf(&sb, "USER %s\n", m.Identity.User)
	}
	if len(m.Entrypoint) > 0 {
		entry, err := json.Marshal(m.Entrypoint)
		if err != nil {
			return "", fmt.Errorf("encode entrypoint: %w", err)
		}
		fmt.Fprintf(&sb, "ENTRYPOINT %s\n", entry)
	}
	return sb.String(), nil
}

func copyInstruction(src manifest.Source) string {
	return fmt.Sprintf("COPY %s %s", ContextPath(src), src.To)
}

// runInstruction chains commands into a single RUN so they form one layer.
func runInstruction(cmds ...shell.Command) string {
	lines := make([]string, len(cmds))
	for i, c := range cmds {
		lines[i] = c.String()
	}
	return "RUN " + strings.Join(lines, " \\\n    && ")
}

// identityInstruction creates the group, user and home only when absent and
// fails when an existing name is bound to other ids, the same outcomes
// EnsureIdentity has on a live root. An existing home keeps its owner.
func identityInstruction(id manifest.Identity, alpine bool) string {
	uid, gid := strconv.Itoa(id.UID), strconv.Itoa(id.GID)
	group, user, home := shellQuote(id.Group), shellQuote(id.User), shellQuote(id.Home)

	addGroup := shell.Command{Args: []string{"groupadd", "--gid", gid, id.Group}}
	addUser := shell.Command{Args: []string{"useradd", "--uid", uid, "--gid", gid, "--home-dir", id.Home,
		"--no-create-home", "--shell", id.ShellOrDefault(), id.User}}
	if alpine {
		addGroup = shell.Command{Args: []string{"addgroup", "-g", gid, id.Group}}
		addUser = shell.Command{Args: []string{"adduser", "-D", "-H", "-u", uid, "-G", id.Group,
			"-h", id.Home, "-s", id.ShellOrDefault(), id.User}}
	}

	return shellInstruction(
		"g=$(awk -F: -v n="+group+" '$1 == n {print $3}' /etc/group)",
		"if [ -z \"$g\" ]; then "+addGroup.String()+"; elif [ \"$g\" != "+gid+" ]; then "+
			conflict("group "+id.Group+" exists with another gid")+"; fi",
		"u=$(awk -F: -v n="+user+" '$1 == n {print $3 \":\" $4}' /etc/passwd)",
		"if [ -z \"$u\" ]; then "+addUser.String()+"; elif [ \"$u\" != "+uid+":"+gid+" ]; then "+
			conflict("user "+id.User+" exists with other ids")+"; fi",
		"if [ ! -e "+home+" ]; then mkdir -p "+home+" && chown "+uid+":"+gid+" "+home+" && chmod 0750 "+home+
			"; elif [ ! -d "+home+" ]; then "+conflict("home "+id.Home+" is not a directory")+"; fi",
	)
}

func conflict(msg string) string {
	return "{ echo " + shellQuote("layerkit: "+msg) + " >&2; exit 1; }"
}

func grantInstruction(regions []manifest.Region, group string) string {
	var cmds []shell.Command
	for _, r := range regions {
		chmod := []string{"chmod"}
		if r.Recursive {
			chmod = append(chmod, "-R")
		}
		cmds = append(cmds, shell.Command{Args: append(chmod, r.Mode, r.Path)})
		if r.Owner != "" {
			chown := []string{"chown"}
			if r.Recursive {
				chown = append(chown, "-R")
			}
			owner := r.Owner
			if group != "" {
				owner += ":" + group
			}
			cmds = append(cmds, shell.Command{Args: append(chown, owner, r.Path)})
		}
	}
	return runInstruction(cmds...)
}

// rewriteAwk is the substitution Replace performs, one line at a time:
// longest match first at each position, passes repeated until none
// rewrites. Tokens never contain newlines, so the result is the same as on
// the whole file. The trailing newline is restored from LK_NL.
var rewriteAwk = strings.Join([]string{
	`function once(s,  o, i) { o = ""; hits = 0; i = 1;`,
	`while (i <= length(s)) {`,
	`if (skip && substr(s, i, lr) == rep) { o = o rep; i += lr }`,
	`else if (substr(s, i, lt) == tok) { o = o rep; i += lt; hits++ }`,
	`else if (lr > 0 && substr(s, i, lr) == rep) { o = o rep; i += lr }`,
	`else { o = o substr(s, i, 1); i++ } }`,
	`return o }`,
	`BEGIN { tok = ENVIRON["LK_TOKEN"]; rep = ENVIRON["LK_REPLACEMENT"];`,
	`lt = length(tok); lr = length(rep); skip = lr >= lt }`,
	`{ s = $0; for (p = 0; p < length($0) + 2; p++) { t = once(s); if (!hits) break; s = t }`,
	`if (hits) { bad = 1; exit 1 }`,
	`if (NR > 1) printf "\n"; printf "%s", s }`,
	`END { if (bad) exit 1; if (ENVIRON["LK_NL"] + 0 == 1) printf "\n" }`,
}, " ")

// rewriteScript renders a rewrite rule as shell. Every target is checked
// before any is touched; each file is rewritten in place, keeping its mode
// and owner.
func rewriteScript(rule manifest.Rewrite) string {
	targets := make([]string, len(rule.Targets))
	for i, t := range rule.Targets {
		targets[i] = shellQuote(t)
	}
	list := strings.Join(targets, " ")
	return strings.Join([]string{
		"for f in " + list + "; do [ -f \"$f\" ] || { echo \"layerkit: rewrite target $f was not installed\" >&2; exit 1; }; done",
		"for f in " + list + "; do nl=$(tail -c 1 \"$f\" | wc -l)" +
			" && LC_ALL=C LK_TOKEN=" + shellQuote(rule.Token) + " LK_REPLACEMENT=" + shellQuote(rule.Replacement) +
			" LK_NL=$nl awk " + shellQuote(rewriteAwk) + " \"$f\" > \"$f.layerkit\"" +
			" && cat \"$f.layerkit\" > \"$f\" && rm -f \"$f.layerkit\" || exit 1; done",
	}, " \\\n    && ")
}

// shellInstruction chains raw shell lines into a single RUN.
func shellInstruction(lines ...string) string {
	return "RUN " + strings.Join(lines, " \\\n    && ")
}

// shellQuote quotes s for /bin/sh, which is what RUN uses.
func shellQuote(s string) string {
	if q, err := syntax.Quote(s, syntax.LangPOSIX); err == nil {
		return q
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
