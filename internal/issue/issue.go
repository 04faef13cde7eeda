// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

const (
	RecipeInvalidId Id = iota + 1
	BaseResolutionFailedId
	WorkdirFailedId
	PackageInstallFailedId
	DefaultCommandInvalidId
	ContainerEngineNotFoundId
	ConfigLoadFailedId
	CacheUnavailableId
)

type (
	Id int

	MarkdownMsg string

	HttpLink string

	// Issue is a troubleshooting guide shown after a failure.
	Issue struct {
		id       Id          // ID used to lookup the issue
		mdMsg    MarkdownMsg // Markdown text that will be rendered
		extLinks []HttpLink  // external links that might be useful for the user
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the guide for the terminal. stylePath is a glamour style
// name ("dark", "light", "notty") or a path to a style file.
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.extLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	recipeInvalidIssue = &Issue{
		id: RecipeInvalidId,
		mdMsg: `
# The recipe is not valid

The recipe could not be turned into build steps. Nothing was built.

## Things you can try:
- Check the line reported above. Directives must appear in the order
  FROM, WORKDIR, RUN, CMD, each at most once.
- The RUN directive only installs packages: refresh the index, install,
  and purge the caches in one && chain.
- Print the recipe as it will be built:
~~~
$ envprov render <recipe>
~~~`,
		extLinks: []HttpLink{"https://docs.docker.com/reference/dockerfile/"},
	}

	baseResolutionFailedIssue = &Issue{
		id: BaseResolutionFailedId,
		mdMsg: `
# The base image could not be resolved

The base reference is neither in local storage nor pullable from its registry.

## Things you can try:
- Check the image name and tag for typos.
- Pull it manually to see the registry's answer:
~~~
$ docker pull gcc:latest
~~~
- Log in first if the registry requires authentication.
- Transient registry errors can be retried with ` + "`--retries`" + `.`,
	}

	workdirFailedIssue = &Issue{
		id: WorkdirFailedId,
		mdMsg: `
# The working directory could not be created

The path in WORKDIR could not be created in the base filesystem.

## Things you can try:
- Use an absolute path such as ` + "`/workspace`" + `.
- Make sure no file already exists at that path in the base image.`,
	}

	packageInstallFailedIssue = &Issue{
		id: PackageInstallFailedId,
		mdMsg: `
# Package installation failed

The package manager could not refresh its index or install the package set.

## Things you can try:
- Check that every package exists for the base image's distribution.
- Use the package manager that matches the base image (apt for Debian and
  Ubuntu, apk for Alpine).
- Network failures while downloading packages can be retried with
  ` + "`--retries`" + `.`,
	}

	defaultCommandInvalidIssue = &Issue{
		id: DefaultCommandInvalidId,
		mdMsg: `
# The default command is not usable

The image was built but its default command cannot be started, so it was
not tagged.

## Things you can try:
- Make sure the executable in CMD ships with the base image or is part of
  the package set.
- Inspect the intermediate image:
~~~
$ docker run --rm --entrypoint sh <image> -c 'command -v <executable>'
~~~
- Skip the check with ` + "`--no-check`" + ` if the executable is installed at run time.`,
	}

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# No container engine found

Building execution environments needs docker or podman.

## Things you can try:
- Install Docker or Podman and make sure the binary is on PATH.
- Check that the daemon is running:
~~~
$ docker version
~~~
- Select the engine explicitly:
~~~
$ ENVPROV_CONTAINER_ENGINE=podman envprov build c
~~~`,
		extLinks: []HttpLink{"https://docs.docker.com/engine/install/", "https://podman.io/docs/installation"},
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# The configuration could not be loaded

## Things you can try:
- Show the effective configuration:
~~~
$ envprov config show
~~~
- Write a fresh configuration file:
~~~
$ envprov config init
~~~`,
	}

	cacheUnavailableIssue = &Issue{
		id: CacheUnavailableId,
		mdMsg: `
# The step cache is not usable

The cache directory could not be read or written.

## Things you can try:
- Check permissions of the cache directory (` + "`cache_dir`" + ` in the config).
- Build without the cache:
~~~
$ envprov build --no-cache <recipe>
~~~
- Clear it:
~~~
$ envprov cache prune
~~~`,
	}

	issues = map[Id]*Issue{
		recipeInvalidIssue.Id():           recipeInvalidIssue,
		baseResolutionFailedIssue.Id():    baseResolutionFailedIssue,
		workdirFailedIssue.Id():           workdirFailedIssue,
		packageInstallFailedIssue.Id():    packageInstallFailedIssue,
		defaultCommandInvalidIssue.Id():   defaultCommandInvalidIssue,
		containerEngineNotFoundIssue.Id(): containerEngineNotFoundIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		cacheUnavailableIssue.Id():        cacheUnavailableIssue,
	}
)

// Values returns every guide ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
