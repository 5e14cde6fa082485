package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	enclaveCmds
	notifyCmds
	sessionCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Inspecting enclaves", enclaveCmds},
	{"Delivering runtime notifications", notifyCmds},
	{"Attaching and detaching", sessionCmds},
	{"Other commands", otherCmds},
}
