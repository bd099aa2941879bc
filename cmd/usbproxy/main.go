// Command usbproxy is the process entry point: it gathers the proxy's
// configuration from flags and hands it to proxy.Engine. Flag parsing
// itself carries no domain logic, so it is the one place this module
// reaches for the standard library's flag package rather than a
// third-party CLI library.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/daedaluz/usbproxy/inject"
	"github.com/daedaluz/usbproxy/proxy"
	"github.com/daedaluz/usbproxy/rawgadget"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		vendorID     uint
		productID    uint
		driverName   string
		deviceName   string
		devicePath   string
		rulePath     string
		floor        uint
		verbosity    int
		vbusMA       uint
		openDeadline time.Duration
	)
	flag.UintVar(&vendorID, "vendor-id", 0, "USB vendor id of the real peripheral (required)")
	flag.UintVar(&productID, "product-id", 0, "USB product id of the real peripheral (required)")
	flag.StringVar(&driverName, "gadget-driver", "", "UDC driver name to bind (required)")
	flag.StringVar(&deviceName, "gadget-device", "", "UDC device name to bind (required)")
	flag.StringVar(&devicePath, "gadget-device-path", rawgadget.DefaultDevicePath, "raw-gadget character device node")
	flag.StringVar(&rulePath, "rules", "", "path to an injection rule file (optional)")
	flag.UintVar(&floor, "max-packet-size0-floor", 64, "bMaxPacketSize0 floor applied to the mirrored device descriptor")
	flag.IntVar(&verbosity, "v", 0, "verbosity level")
	flag.UintVar(&vbusMA, "vbus-ma", 0, "milliamps to advertise via vbus_draw")
	flag.DurationVar(&openDeadline, "open-deadline", 10*time.Second, "how long to wait for the real peripheral to appear")
	flag.Parse()

	if vendorID == 0 || productID == 0 || driverName == "" || deviceName == "" {
		fmt.Fprintln(os.Stderr, "usbproxy: -vendor-id, -product-id, -gadget-driver, and -gadget-device are required")
		flag.Usage()
		return 1
	}

	rules := inject.Empty()
	if rulePath != "" {
		data, err := os.ReadFile(rulePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "usbproxy: read rule file: %v\n", err)
			return 1
		}
		compiled, err := inject.Compile(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "usbproxy: compile rule file: %v\n", err)
			return 1
		}
		rules = compiled
	}

	engine, err := proxy.New(proxy.Config{
		VendorID:            uint16(vendorID),
		ProductID:           uint16(productID),
		GadgetDriverName:    driverName,
		GadgetDeviceName:    deviceName,
		GadgetDevicePath:    devicePath,
		Speed:               rawgadget.SpeedHigh,
		RuleSet:             rules,
		MaxPacketSize0Floor: uint8(floor),
		Verbosity:           verbosity,
		DeviceOpenDeadline:  openDeadline,
		VBusMilliAmps:       uint32(vbusMA),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "usbproxy: %v\n", err)
		return 1
	}
	return engine.Run()
}
