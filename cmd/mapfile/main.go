package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/hauke96/sigolo/v2"

	"mapsforge/mapfile"
	"mapsforge/tile"
)

const VERSION = "v0.1.0"

var cli struct {
	Logging string      `help:"Logging verbosity." enum:"info,debug,trace" short:"l" default:"info"`
	Version VersionFlag `help:"Print version information and quit" name:"version" short:"v"`
	Info    struct {
		MapFile string `help:"The .map file to inspect." placeholder:"<map-file>" arg:"" type:"existingfile"`
	} `cmd:"" help:"Prints the header metadata of a map file."`
	Tile struct {
		MapFile string `help:"The .map file to query." placeholder:"<map-file>" arg:"" type:"existingfile"`
		Zoom    uint8  `help:"Zoom level of the requested tile." arg:""`
		X       uint32 `help:"Tile column." arg:""`
		Y       uint32 `help:"Tile row." arg:""`
	} `cmd:"" help:"Decodes one tile and prints it as a GeoJSON FeatureCollection."`
}

type VersionFlag string

func (v VersionFlag) Decode(ctx *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                         { return true }
func (v VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	fmt.Println(vars["version"])
	app.Exit(0)
	return nil
}

func main() {
	ctx := kong.Parse(
		&cli,
		kong.Name("mapfile"),
		kong.Description("Inspects and queries mapsforge binary map files."),
		kong.Vars{
			"version": VERSION,
		},
	)

	switch strings.ToLower(cli.Logging) {
	case "debug":
		sigolo.SetDefaultLogLevel(sigolo.LOG_DEBUG)
	case "trace":
		sigolo.SetDefaultLogLevel(sigolo.LOG_TRACE)
	case "info":
		sigolo.SetDefaultLogLevel(sigolo.LOG_INFO)
		sigolo.SetDefaultFormatFunctionAll(sigolo.LogPlain)
	default:
		sigolo.SetDefaultFormatFunctionAll(sigolo.LogPlain)
		sigolo.Fatalf("Unknown logging level '%s'", cli.Logging)
	}

	switch ctx.Command() {
	case "info <map-file>":
		runInfo(cli.Info.MapFile)
	case "tile <map-file> <zoom> <x> <y>":
		runTile(cli.Tile.MapFile, cli.Tile.Zoom, cli.Tile.X, cli.Tile.Y)
	default:
		sigolo.Fatalf("Unknown command '%s'", ctx.Command())
	}
}

func runInfo(path string) {
	decoder := mapfile.NewDecoder(mapfile.Options{})
	result := decoder.OpenFile(path)
	if !result.IsSuccess() {
		sigolo.Fatalf("Opening %s: %s", path, result.ErrorMessage)
	}
	defer decoder.CloseFile()

	info, err := decoder.GetMapFileInfo()
	sigolo.FatalCheck(err)

	encoded, err := json.MarshalIndent(info, "", "  ")
	sigolo.FatalCheck(err)
	fmt.Println(string(encoded))
}

func runTile(path string, zoom uint8, x, y uint32) {
	decoder := mapfile.NewDecoder(mapfile.Options{})
	result := decoder.OpenFile(path)
	if !result.IsSuccess() {
		sigolo.Fatalf("Opening %s: %s", path, result.ErrorMessage)
	}
	defer decoder.CloseFile()

	sink := mapfile.NewGeoJSONCollector(decoder)
	err := decoder.ExecuteQuery(tile.Tile{X: x, Y: y, Zoom: zoom}, sink)
	sigolo.FatalCheck(err)

	encoded, err := sink.Collection().MarshalJSON()
	sigolo.FatalCheck(err)
	fmt.Println(string(encoded))

	if err := os.Stdout.Sync(); err != nil {
		sigolo.Debugf("stdout sync: %v", err)
	}
}
