// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Id identifies a catalogued issue.
type Id int

const (
	SessionsFileNotFoundId Id = iota + 1
	SessionsFileParseErrorId
	UnknownSessionId
	IncludeCycleId
	RuntimeNotAvailableId
	ContainerEngineNotFoundId
	InstallFailedId
	ConfigLoadFailedId
	InvalidPlaceholderId
)

type (
	// MarkdownMsg is the Markdown body rendered for an issue.
	MarkdownMsg string

	// HttpLink is a documentation or external reference URL.
	HttpLink string

	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
		extLinks []HttpLink
	}
)

var (
	render = glamour.Render

	sessionsFileNotFoundIssue = &Issue{
		id: SessionsFileNotFoundId,
		mdMsg: `
# No sessions file found!

runmatrix looked for a sessions file in the current directory and its parents
but could not find one.

## Things you can try:
- Create a ` + "`runmatrix.cue`" + ` in your project root:
~~~cue
sessions: [
  {
    name: "test"
    runtimes: ["3.11", "3.12"]
    steps: [
      {install: ["-e", "."]},
      {run: ["pytest"], posargs: ["tests/"]},
    ]
  },
]
~~~

- Point runmatrix at an existing file:
~~~
$ runmatrix run --sessions-file path/to/runmatrix.cue
~~~`,
	}

	sessionsFileParseErrorIssue = &Issue{
		id: SessionsFileParseErrorId,
		mdMsg: `
# Failed to parse the sessions file!

The sessions file has a syntax error or does not match the schema.

## Things you can try:
- Check the reported path and line for the offending field
- Make sure every step sets exactly one of ` + "`install`, `run`, `log`, `remove` or `session`" + `
- Quote runtime identifiers such as ` + "`\"3.10\"`" + ` so CUE keeps them as strings`,
	}

	unknownSessionIssue = &Issue{
		id: UnknownSessionId,
		mdMsg: `
# Unknown session!

The requested session or unit is not defined in the sessions file.

## Things you can try:
- List the available sessions and units:
~~~
$ runmatrix list
~~~

- Select a single matrix unit with its runtime suffix, for example ` + "`test-3.12`",
	}

	includeCycleIssue = &Issue{
		id: IncludeCycleId,
		mdMsg: `
# Session include cycle detected!

A session includes itself, directly or through other sessions.

## Things you can try:
- Follow the cycle reported in the error and remove one of the ` + "`session:`" + ` steps
- Move the shared steps into a separate session that includes nothing`,
	}

	runtimeNotAvailableIssue = &Issue{
		id: RuntimeNotAvailableId,
		mdMsg: `
# Runtime not available!

No interpreter could be found for the requested runtime.

## Things you can try:
- Install the interpreter and make sure it is on your PATH
- Map the runtime to an interpreter in your config:
~~~cue
virtualenv: interpreters: {"3.12": "/opt/python/3.12/bin/python3"}
~~~

- Skip unavailable runtimes with ` + "`--runtime`",
	}

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# Container engine not found!

The container backend needs Docker or Podman.

## Things you can try:
- Install Docker or Podman
- Select the engine in your config:
~~~cue
container: engine: "podman"
~~~

- Use the virtualenv backend instead:
~~~
$ RUNMATRIX_BACKEND=virtualenv runmatrix run
~~~`,
	}

	installFailedIssue = &Issue{
		id: InstallFailedId,
		mdMsg: `
# Dependency installation failed!

The installer exited with an error and the environment was marked unusable
for the rest of this run.

## Things you can try:
- Read the installer output shown above
- Recreate the environment from scratch by running without ` + "`--reuse-existing`",
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

The configuration file could not be read or does not match the schema.

## Things you can try:
- Show where runmatrix looks for its configuration:
~~~
$ runmatrix config show
~~~

- Recreate the default configuration:
~~~
$ runmatrix config init --force
~~~`,
	}

	invalidPlaceholderIssue = &Issue{
		id: InvalidPlaceholderId,
		mdMsg: `
# Invalid placeholder!

A step argument references a placeholder that could not be rendered.

## Things you can try:
- Declare a default in the session's ` + "`params`" + `
- Pass a value on the command line with ` + "`--param KEY=VALUE`" + `
- Write a literal dollar sign as ` + "`\\$`",
	}

	issues = map[Id]*Issue{
		sessionsFileNotFoundIssue.Id():    sessionsFileNotFoundIssue,
		sessionsFileParseErrorIssue.Id():  sessionsFileParseErrorIssue,
		unknownSessionIssue.Id():          unknownSessionIssue,
		includeCycleIssue.Id():            includeCycleIssue,
		runtimeNotAvailableIssue.Id():     runtimeNotAvailableIssue,
		containerEngineNotFoundIssue.Id(): containerEngineNotFoundIssue,
		installFailedIssue.Id():           installFailedIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		invalidPlaceholderIssue.Id():      invalidPlaceholderIssue,
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue as styled Markdown using the given glamour style.
func (i *Issue) Render(stylePath string) (string, error) {
	var sb strings.Builder
	sb.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		sb.WriteString("\n\n## See also:\n")
		for _, link := range slices.Concat(i.docLinks, i.extLinks) {
			sb.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(sb.String(), stylePath)
}

// Values returns every catalogued issue ordered by Id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int {
		return cmp.Compare(a.id, b.id)
	})
}

// Get returns the issue for id, or nil if none is catalogued.
func Get(id Id) *Issue {
	return issues[id]
}
