package server

import (
	"github.com/invopop/jsonschema"
)

// Tool names exposed to protocol clients.
const (
	ToolParseImage    = "Parse_Image_Into_Rules_Of_Thirds"
	ToolDetectObjects = "CamPro_DetectObj"
	ToolChat          = "CamPro_Chat"
)

// Tool represents an MCP tool definition
type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
}

var reflector = jsonschema.Reflector{
	DoNotReference: true,
	ExpandedStruct: true,
	Anonymous:      true,
}

// GetToolDefinitions returns all available tools. Input schemas are
// reflected from the argument structs so the advertised shape and the
// validated shape cannot drift apart.
func GetToolDefinitions() []Tool {
	return []Tool{
		{
			Name: ToolParseImage,
			Description: "Analyzes the image following rules of thirds of photography, that is iso, " +
				"shutter speed and aperture. And provides suggestion for configuration if you want " +
				"to reproduce the same effect.",
			InputSchema: inputSchema(new(ParseImageArgs)),
		},
		{
			Name:        ToolDetectObjects,
			Description: "Detects the objects present in a local image file and describes them.",
			InputSchema: inputSchema(new(DetectObjectsArgs)),
		},
		{
			Name:        ToolChat,
			Description: "Sends a free-text photography question to the CamPro assistant and returns its answer.",
			InputSchema: inputSchema(new(ChatArgs)),
		},
	}
}

func inputSchema(args ToolArgs) *jsonschema.Schema {
	s := reflector.Reflect(args)
	s.Version = ""
	return s
}
