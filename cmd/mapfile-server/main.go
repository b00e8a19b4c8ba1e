package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alecthomas/kong"
	"github.com/gorilla/mux"
	"github.com/hauke96/sigolo/v2"

	"mapsforge/mapfile"
	"mapsforge/tile"
)

var cli struct {
	MapFile string `help:"The .map file to serve." placeholder:"<map-file>" arg:"" type:"existingfile"`
	Port    string `help:"TCP port to listen on." short:"p" default:"8080"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("mapfile-server"),
		kong.Description("Serves tiles decoded from a mapsforge binary map file as GeoJSON."))

	decoder := mapfile.NewDecoder(mapfile.Options{})
	result := decoder.OpenFile(cli.MapFile)
	if !result.IsSuccess() {
		sigolo.Fatalf("Opening %s: %s", cli.MapFile, result.ErrorMessage)
	}
	defer decoder.CloseFile()

	router := initRouter(decoder)
	sigolo.Infof("Serving %s on port %s", cli.MapFile, cli.Port)
	sigolo.FatalCheck(http.ListenAndServe(":"+cli.Port, router))
}

func initRouter(decoder *mapfile.Decoder) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/info", func(writer http.ResponseWriter, request *http.Request) {
		info, err := decoder.GetMapFileInfo()
		if err != nil {
			writeError(writer, http.StatusInternalServerError, err)
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(writer).Encode(info); err != nil {
			sigolo.Errorf("mapfile-server: writing /info response: %v", err)
		}
	}).Methods(http.MethodGet)

	router.HandleFunc("/tiles/{z}/{x}/{y}", func(writer http.ResponseWriter, request *http.Request) {
		vars := mux.Vars(request)
		z, x, y, err := parseTileVars(vars)
		if err != nil {
			writeError(writer, http.StatusBadRequest, err)
			return
		}

		collector := mapfile.NewGeoJSONCollector(decoder)
		if err := decoder.ExecuteQuery(tile.Tile{X: x, Y: y, Zoom: z}, collector); err != nil {
			writeError(writer, http.StatusInternalServerError, err)
			return
		}

		writer.Header().Set("Content-Type", "application/geo+json")
		writer.Header().Set("Access-Control-Allow-Origin", "*")
		encoded, err := collector.Collection().MarshalJSON()
		if err != nil {
			writeError(writer, http.StatusInternalServerError, err)
			return
		}
		if _, err := writer.Write(encoded); err != nil {
			sigolo.Errorf("mapfile-server: writing /tiles response: %v", err)
		}
	}).Methods(http.MethodGet)

	return router
}

func parseTileVars(vars map[string]string) (zoom uint8, x, y uint32, err error) {
	zoomValue, err := strconv.ParseUint(vars["z"], 10, 8)
	if err != nil {
		return 0, 0, 0, err
	}
	xValue, err := strconv.ParseUint(vars["x"], 10, 32)
	if err != nil {
		return 0, 0, 0, err
	}
	yValue, err := strconv.ParseUint(vars["y"], 10, 32)
	if err != nil {
		return 0, 0, 0, err
	}
	return uint8(zoomValue), uint32(xValue), uint32(yValue), nil
}

func writeError(writer http.ResponseWriter, status int, err error) {
	sigolo.Errorf("mapfile-server: %v", err)
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(map[string]string{"error": err.Error()})
}
