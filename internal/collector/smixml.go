package collector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/clbanning/mxj/v2"
	"github.com/mycoool/gpuhub/internal/stats"
)

// SMIXMLQuery dumps the full nvidia-smi report as XML.
const SMIXMLQuery = "nvidia-smi -q -x"

// GPUDetail is what the XML report adds on top of the CSV queries.
type GPUDetail struct {
	ProductName string
	Temperature int
}

// ParseSMIXML extracts product names and temperatures keyed by GPU uuid.
func ParseSMIXML(b []byte) (map[string]GPUDetail, error) {
	m, err := mxj.NewMapXml(b)
	if err != nil {
		return nil, fmt.Errorf("parse nvidia-smi xml: %w", err)
	}
	nodes, err := m.ValuesForPath("nvidia_smi_log.gpu")
	if err != nil {
		return nil, fmt.Errorf("parse nvidia-smi xml: %w", err)
	}
	res := make(map[string]GPUDetail, len(nodes))
	for _, n := range nodes {
		gpu, ok := n.(map[string]interface{})
		if !ok {
			continue
		}
		uuid, _ := gpu["uuid"].(string)
		if uuid == "" {
			continue
		}
		d := GPUDetail{}
		d.ProductName, _ = gpu["product_name"].(string)
		if temp, ok := gpu["temperature"].(map[string]interface{}); ok {
			if s, ok := temp["gpu_temp"].(string); ok {
				d.Temperature = parseCelsius(s)
			}
		}
		res[strings.TrimSpace(uuid)] = d
	}
	return res, nil
}

// ApplyDetails fills fields the CSV query left empty.
func ApplyDetails(gpus []stats.GPU, details map[string]GPUDetail) {
	for i := range gpus {
		d, ok := details[gpus[i].UUID]
		if !ok {
			continue
		}
		if gpus[i].Name == "" {
			gpus[i].Name = d.ProductName
		}
		if gpus[i].Temperature == 0 {
			gpus[i].Temperature = d.Temperature
		}
	}
}

// parseCelsius reads values like "41 C".
func parseCelsius(s string) int {
	f := strings.Fields(s)
	if len(f) == 0 {
		return 0
	}
	n, err := strconv.Atoi(f[0])
	if err != nil {
		return 0
	}
	return n
}
