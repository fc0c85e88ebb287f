package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	heapCmds
	memoryCmds
	runCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Inspecting the heap", heapCmds},
	{"Viewing process memory", memoryCmds},
	{"Running the program", runCmds},
	{"Other commands", otherCmds},
}
