package media

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied = errors.New("audio device permission denied")
	ErrDeviceNotFound   = errors.New("audio device not found")
	ErrDeviceBusy       = errors.New("audio device busy")
	ErrConstraints      = errors.New("audio device cannot satisfy constraints")
	ErrUnsupported      = errors.New("audio capability not supported")
	ErrStreamClosed     = errors.New("audio stream closed")
)

type Category string

const (
	CategoryNone        Category = ""
	CategoryPermission  Category = "permission"
	CategoryAbsent      Category = "device_absent"
	CategoryBusy        Category = "device_busy"
	CategoryConstraints Category = "constraints"
	CategoryUnsupported Category = "unsupported"
	CategoryUnknown     Category = "unknown"
)

func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrPermissionDenied):
		return CategoryPermission
	case errors.Is(err, ErrDeviceNotFound):
		return CategoryAbsent
	case errors.Is(err, ErrDeviceBusy):
		return CategoryBusy
	case errors.Is(err, ErrConstraints):
		return CategoryConstraints
	case errors.Is(err, ErrUnsupported):
		return CategoryUnsupported
	default:
		return CategoryUnknown
	}
}

// Guidance returns the user-facing text for a device error.
func Guidance(err error) string {
	switch Classify(err) {
	case CategoryNone:
		return ""
	case CategoryPermission:
		return "麦克风权限被拒绝，请在系统设置中允许访问麦克风"
	case CategoryAbsent:
		return "未找到指定的麦克风设备，请检查设备连接或选择其他设备"
	case CategoryBusy:
		return "麦克风设备被其他应用占用，请关闭其他使用麦克风的程序"
	case CategoryConstraints:
		return "所选麦克风设备不支持当前配置，请尝试选择其他设备"
	case CategoryUnsupported:
		return "当前环境不支持音频设备功能"
	default:
		return fmt.Sprintf("音频监控启动失败: %v", err)
	}
}
