package decoder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// argTypes builds an abi.Arguments list from plain Solidity type strings,
// e.g. argTypes("uint256", "address[]", "bytes"). Panics on an invalid
// type string since the callers below only ever pass fixed, known-good
// signatures defined at package init time.
func argTypes(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("decoder: bad abi type %q: %v", t, err))
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// unpack decodes calldata (with the 4-byte selector already stripped)
// against the given argument list. Any decode error collapses to
// (nil, false) per the registry's "a family never panics" error policy.
func unpack(args abi.Arguments, data []byte) ([]any, bool) {
	values, err := args.UnpackValues(data)
	if err != nil {
		return nil, false
	}
	return values, true
}
