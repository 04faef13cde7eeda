// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// installChain accumulates what a RUN expression does, call by call.
type installChain struct {
	manager   PackageManager
	updated   bool
	installed bool
	purged    bool
	noCache   bool
	packages  []PackageName
}

// parseInstallExpression parses the shell expression of a RUN directive and
// extracts the package set. Only an && chain of index refresh, install, and
// cache purge commands for a single package manager is accepted, or a bare
// cache purge for an empty package set.
func parseInstallExpression(expr string) (PackageManager, []PackageName, error) {
	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	f, err := parser.Parse(strings.NewReader(expr), "")
	if err != nil {
		return "", nil, fmt.Errorf("cannot parse RUN expression: %w", err)
	}
	if len(f.Stmts) != 1 {
		return "", nil, errors.New("RUN must be a single && chain")
	}

	calls, err := flattenAndChain(f.Stmts[0])
	if err != nil {
		return "", nil, err
	}

	var chain installChain
	for _, args := range calls {
		if err := chain.apply(args); err != nil {
			return "", nil, err
		}
	}
	if err := chain.complete(); err != nil {
		return "", nil, err
	}
	return chain.manager, chain.packages, nil
}

// flattenAndChain returns the argument lists of every simple command in an
// a && b && c chain, left to right.
func flattenAndChain(st *syntax.Stmt) ([][]string, error) {
	if st.Negated || st.Background || st.Coprocess || len(st.Redirs) > 0 {
		return nil, errors.New("RUN expression may not use negation, background jobs, or redirections")
	}

	switch cmd := st.Cmd.(type) {
	case *syntax.BinaryCmd:
		if cmd.Op != syntax.AndStmt {
			return nil, fmt.Errorf("unsupported operator %q in RUN expression (only && is allowed)", cmd.Op.String())
		}
		left, err := flattenAndChain(cmd.X)
		if err != nil {
			return nil, err
		}
		right, err := flattenAndChain(cmd.Y)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil

	case *syntax.CallExpr:
		if len(cmd.Assigns) > 0 {
			return nil, errors.New("variable assignments are not supported in RUN expressions")
		}
		args := make([]string, 0, len(cmd.Args))
		for _, w := range cmd.Args {
			lit, ok := wordLiteral(w)
			if !ok {
				return nil, errors.New("parameter expansion and command substitution are not supported in RUN expressions")
			}
			args = append(args, lit)
		}
		if len(args) == 0 {
			return nil, errors.New("empty command in RUN expression")
		}
		return [][]string{args}, nil

	default:
		return nil, errors.New("RUN expression must be a chain of simple commands")
	}
}

// wordLiteral returns the literal value of a word made only of plain,
// single-quoted, or expansion-free double-quoted parts.
func wordLiteral(w *syntax.Word) (string, bool) {
	var sb strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, dp := range p.Parts {
				lit, ok := dp.(*syntax.Lit)
				if !ok {
					return "", false
				}
				sb.WriteString(lit.Value)
			}
		default:
			return "", false
		}
	}
	return sb.String(), true
}

func (c *installChain) setManager(m PackageManager) error {
	if c.manager != "" && c.manager != m {
		return fmt.Errorf("RUN expression mixes %s and %s", c.manager, m)
	}
	c.manager = m
	return nil
}

func (c *installChain) apply(args []string) error {
	prog := path.Base(args[0])
	switch prog {
	case "apt-get", "apt":
		if err := c.setManager(PackageManagerAPT); err != nil {
			return err
		}
		return c.applyManager(prog, args[1:], "install", "clean")
	case "apk":
		if err := c.setManager(PackageManagerAPK); err != nil {
			return err
		}
		return c.applyManager(prog, args[1:], "add", "cache")
	case "rm":
		return c.applyRemove(args[1:])
	default:
		return fmt.Errorf("unsupported command %q in RUN expression (only package installation is supported)", args[0])
	}
}

func (c *installChain) applyManager(prog string, args []string, installVerb, cleanVerb string) error {
	verb, rest := splitVerb(args)
	switch verb {
	case "update":
		if c.installed {
			return fmt.Errorf("%s update must precede the install command", prog)
		}
		c.updated = true
	case installVerb:
		if c.installed {
			return fmt.Errorf("RUN expression has more than one %s %s command", prog, installVerb)
		}
		c.installed = true
		for i := 0; i < len(rest); i++ {
			arg := rest[i]
			switch {
			case arg == "--no-cache":
				c.noCache = true
			case arg == "-o" || arg == "-t" || arg == "--virtual":
				i++ // flag takes a value
			case strings.HasPrefix(arg, "-"):
			default:
				c.packages = append(c.packages, PackageName(arg))
			}
		}
	case cleanVerb:
		if !c.installed {
			return fmt.Errorf("%s %s must follow the install command", prog, cleanVerb)
		}
		c.purged = true
	case "":
		return fmt.Errorf("%s without a subcommand in RUN expression", prog)
	default:
		return fmt.Errorf("unsupported %s subcommand %q in RUN expression", prog, verb)
	}
	return nil
}

func (c *installChain) applyRemove(args []string) error {
	if !c.installed && c.updated {
		return errors.New("rm must follow the install command")
	}
	if c.manager == "" {
		for _, arg := range args {
			if !strings.HasPrefix(arg, "-") {
				c.manager = managerForCache(arg)
				break
			}
		}
	}
	var operands int
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		operands++
		if !c.purgeable(arg) {
			return fmt.Errorf("rm of %q is not supported (only package manager caches may be removed)", arg)
		}
	}
	if operands == 0 {
		return errors.New("rm without operands in RUN expression")
	}
	c.purged = true
	return nil
}

func (c *installChain) purgeable(target string) bool {
	clean := path.Clean(strings.TrimSuffix(target, "*"))
	dirs := c.manager.CacheDirs()
	if c.manager.Resolved() == PackageManagerAPT {
		dirs = append(dirs, "/var/cache/apt")
	}
	for _, dir := range dirs {
		if clean == dir || strings.HasPrefix(clean, dir+"/") {
			return true
		}
	}
	return false
}

// managerForCache returns the package manager owning a purge target.
func managerForCache(target string) PackageManager {
	apk := PackageManagerAPK
	if (&installChain{manager: apk}).purgeable(target) {
		return apk
	}
	return PackageManagerAPT
}

func (c *installChain) complete() error {
	switch {
	case !c.installed && !c.updated && c.purged:
		return nil // purge only: empty package set
	case !c.installed:
		return errors.New("RUN expression does not install packages")
	case !c.updated && !c.noCache:
		return errors.New("package index must be refreshed in the same RUN expression before installing")
	case !c.purged && !c.noCache:
		return fmt.Errorf("package caches must be purged in the same RUN expression (rm -rf %s)",
			strings.Join(c.manager.purgeGlobs(), " "))
	}
	return nil
}

// splitVerb returns the first non-flag argument and the arguments after it.
func splitVerb(args []string) (verb string, rest []string) {
	for i, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a, args[i+1:]
		}
	}
	return "", nil
}
