package gpt

import "fmt"

// typeShortcuts maps the single-letter GPT partition-type aliases genimage
// accepts to their full type UUIDs, ported verbatim from
// gpt_partition_type_lookup.
var typeShortcuts = map[byte]string{
	'L': "0fc63daf-8483-4772-8e79-3d69d8477de4", // Linux filesystem data
	'S': "0657fd6d-a4ab-43c4-84e5-0933c84b4f4f", // Linux swap
	'H': "933ac7e1-2eb4-4f13-b844-0e14e2aef915", // Linux /home
	'U': "c12a7328-f81f-11d2-ba4b-00a0c93ec93b", // EFI System
	'R': "a19d880f-05fc-4d3b-a006-743f0f84911e", // Linux RAID
	'V': "e6d6d379-f507-44c2-a23c-238f2a3df928", // Linux LVM
	'F': "ebd0a0a2-b9e5-4433-87c0-68b6b72699c7", // Microsoft basic data
}

// ResolveTypeUUID expands a one-character shortcut to its full type UUID,
// or returns uuid unchanged if it is not a single-character string.
func ResolveTypeUUID(uuid string) (string, error) {
	if len(uuid) != 1 {
		return uuid, nil
	}
	full, ok := typeShortcuts[uuid[0]]
	if !ok {
		return "", fmt.Errorf("gpt: invalid partition type shortcut: %c", uuid[0])
	}
	return full, nil
}
